package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/taskflow/internal/job"
)

// SaveSubmission saves or updates a submission and its ordered job references.
func (s *SQLiteStore) SaveSubmission(ctx context.Context, rec job.SubmissionRecord) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (id, entity_id, entity_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			entity_id = excluded.entity_id,
			entity_type = excluded.entity_type,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, rec.ID, rec.EntityID, rec.EntityType, rec.Status.String(), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert submission: %w", err)
	}

	// Replace the job references
	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_jobs WHERE submission_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to delete old job references: %w", err)
	}
	for i, jobID := range rec.JobIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submission_jobs (submission_id, position, job_id)
			VALUES (?, ?, ?)
		`, rec.ID, i, jobID); err != nil {
			return fmt.Errorf("failed to insert job reference %s: %w", jobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission by ID, including its job references.
func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (job.SubmissionRecord, error) {
	rec, err := s.scanSubmission(ctx, s.db.QueryRowContext(ctx, `
		SELECT id, entity_id, entity_type, status, created_at
		FROM submissions
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return job.SubmissionRecord{}, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return job.SubmissionRecord{}, fmt.Errorf("failed to query submission: %w", err)
	}
	return rec, nil
}

// ListSubmissions returns all submissions in creation order.
func (s *SQLiteStore) ListSubmissions(ctx context.Context) ([]job.SubmissionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, entity_type, status, created_at
		FROM submissions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var recs []job.SubmissionRecord
	for rows.Next() {
		rec, err := s.scanSubmission(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStore) scanSubmission(ctx context.Context, row rowScanner) (job.SubmissionRecord, error) {
	var rec job.SubmissionRecord
	var status, createdAt string
	if err := row.Scan(&rec.ID, &rec.EntityID, &rec.EntityType, &status, &createdAt); err != nil {
		return job.SubmissionRecord{}, err
	}

	var err error
	if rec.Status, err = job.ParseSubmissionStatus(status); err != nil {
		return job.SubmissionRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return job.SubmissionRecord{}, err
	}

	// Second connection serves this while the outer rows are open
	jobRows, err := s.db.QueryContext(ctx, `
		SELECT job_id
		FROM submission_jobs
		WHERE submission_id = ?
		ORDER BY position
	`, rec.ID)
	if err != nil {
		return job.SubmissionRecord{}, fmt.Errorf("failed to query job references: %w", err)
	}
	defer jobRows.Close()

	rec.JobIDs = []string{}
	for jobRows.Next() {
		var jobID string
		if err := jobRows.Scan(&jobID); err != nil {
			return job.SubmissionRecord{}, fmt.Errorf("failed to scan job reference: %w", err)
		}
		rec.JobIDs = append(rec.JobIDs, jobID)
	}
	if err := jobRows.Err(); err != nil {
		return job.SubmissionRecord{}, fmt.Errorf("error iterating job references: %w", err)
	}
	return rec, nil
}
