package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/taskflow/internal/job"
)

// SaveJob saves or updates a job record.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveJob(ctx context.Context, rec job.Record) error {
	stacktrace, err := json.Marshal(nonNil(rec.Stacktrace))
	if err != nil {
		return fmt.Errorf("failed to encode stacktrace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, task_id, forced, status, stacktrace, submit_id, submit_entity_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			forced = excluded.forced,
			status = excluded.status,
			stacktrace = excluded.stacktrace,
			submit_id = excluded.submit_id,
			submit_entity_id = excluded.submit_entity_id,
			updated_at = excluded.updated_at
	`, rec.ID, rec.TaskID, rec.Force, rec.Status.String(), string(stacktrace),
		rec.SubmitID, rec.SubmitEntityID, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

const jobColumns = `id, task_id, forced, status, stacktrace, submit_id, submit_entity_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Record, error) {
	var rec job.Record
	var status, stacktrace, createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &rec.TaskID, &rec.Force, &status, &stacktrace,
		&rec.SubmitID, &rec.SubmitEntityID, &createdAt, &updatedAt); err != nil {
		return job.Record{}, err
	}

	var err error
	if rec.Status, err = job.ParseStatus(status); err != nil {
		return job.Record{}, err
	}
	if err := json.Unmarshal([]byte(stacktrace), &rec.Stacktrace); err != nil {
		return job.Record{}, fmt.Errorf("failed to decode stacktrace of job %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return job.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return job.Record{}, err
	}
	return rec, nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (job.Record, error) {
	rec, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return job.Record{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return job.Record{}, fmt.Errorf("failed to query job: %w", err)
	}
	return rec, nil
}

// ListJobs returns all jobs in creation order.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var recs []job.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return recs, nil
}

// DeleteJob removes a job record.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
