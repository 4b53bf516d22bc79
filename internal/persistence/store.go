// Package persistence stores Job and Submission records. SQLite is the
// default backing store; etcd can be used when several processes need to
// share the records.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskflow/internal/job"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for jobs and submissions.
type Store interface {
	// Job operations
	SaveJob(ctx context.Context, rec job.Record) error
	GetJob(ctx context.Context, id string) (job.Record, error)
	ListJobs(ctx context.Context) ([]job.Record, error)
	DeleteJob(ctx context.Context, id string) error

	// Submission operations
	SaveSubmission(ctx context.Context, rec job.SubmissionRecord) error
	GetSubmission(ctx context.Context, id string) (job.SubmissionRecord, error)
	ListSubmissions(ctx context.Context) ([]job.SubmissionRecord, error)

	// Lifecycle
	Close() error
}

// Config selects and configures a store.
type Config struct {
	Type      string   // "sqlite", "etcd" or "memory"
	Path      string   // SQLite database path
	Endpoints []string // etcd endpoints
	Prefix    string   // etcd key prefix
}

// Open creates the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store: path is required")
		}
		return NewSQLiteStore(ctx, cfg.Path)
	case "memory":
		return NewMemoryStore(ctx)
	case "etcd":
		return NewEtcdStore(cfg.Endpoints, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openSQLite(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store. Each call gets its own
// database; the shared cache lets the store's connections see the same one.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:taskflow-%s?mode=memory&cache=shared", uuid.NewString())
	return openSQLite(ctx, connStr)
}

func openSQLite(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Allow 2 connections: one for primary queries, one for subqueries
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
