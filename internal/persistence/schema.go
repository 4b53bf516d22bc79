package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS submission_jobs (
		submission_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		job_id TEXT NOT NULL,
		PRIMARY KEY (submission_id, position),
		FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		forced INTEGER NOT NULL,
		status TEXT NOT NULL,
		stacktrace TEXT NOT NULL DEFAULT '[]',
		submit_id TEXT NOT NULL,
		submit_entity_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_submit_id ON jobs(submit_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
