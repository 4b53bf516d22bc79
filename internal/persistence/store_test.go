package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/job"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func sampleJob(id string, created time.Time) job.Record {
	return job.Record{
		ID:             id,
		TaskID:         "t1",
		Force:          true,
		Status:         job.StatusFailed,
		CreatedAt:      created,
		UpdatedAt:      created.Add(time.Second),
		Stacktrace:     []string{"read d1: data node has no data", "panic: boom\ngoroutine 1"},
		SubmitID:       "SUB_1",
		SubmitEntityID: "sc",
	}
}

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	t.Run("job round trip", func(t *testing.T) {
		rec := sampleJob("job-a", base)
		require.NoError(t, store.SaveJob(ctx, rec))

		got, err := store.GetJob(ctx, "job-a")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.TaskID, got.TaskID)
		assert.Equal(t, rec.Force, got.Force)
		assert.Equal(t, rec.Status, got.Status)
		assert.Equal(t, rec.Stacktrace, got.Stacktrace)
		assert.Equal(t, rec.SubmitID, got.SubmitID)
		assert.Equal(t, rec.SubmitEntityID, got.SubmitEntityID)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", rec.CreatedAt, got.CreatedAt)
		assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", rec.UpdatedAt, got.UpdatedAt)
	})

	t.Run("job upsert", func(t *testing.T) {
		rec := sampleJob("job-b", base.Add(time.Minute))
		rec.Status = job.StatusRunning
		rec.Stacktrace = nil
		require.NoError(t, store.SaveJob(ctx, rec))

		rec.Status = job.StatusCompleted
		require.NoError(t, store.SaveJob(ctx, rec))

		got, err := store.GetJob(ctx, "job-b")
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
		assert.Empty(t, got.Stacktrace)
	})

	t.Run("list jobs in creation order", func(t *testing.T) {
		recs, err := store.ListJobs(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"job-a", "job-b"}, ids)
	})

	t.Run("delete job", func(t *testing.T) {
		require.NoError(t, store.DeleteJob(ctx, "job-b"))
		_, err := store.GetJob(ctx, "job-b")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteJob(ctx, "job-b"), ErrNotFound)
	})

	t.Run("submission round trip", func(t *testing.T) {
		rec := job.SubmissionRecord{
			ID:         "sub-1",
			EntityID:   "sc",
			EntityType: "SCENARIO",
			JobIDs:     []string{"job-a", "job-c", "job-b"},
			Status:     job.SubmissionRunning,
			CreatedAt:  base,
		}
		require.NoError(t, store.SaveSubmission(ctx, rec))

		rec.Status = job.SubmissionFailed
		rec.JobIDs = []string{"job-a", "job-c"}
		require.NoError(t, store.SaveSubmission(ctx, rec))

		got, err := store.GetSubmission(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, "sc", got.EntityID)
		assert.Equal(t, "SCENARIO", got.EntityType)
		assert.Equal(t, []string{"job-a", "job-c"}, got.JobIDs)
		assert.Equal(t, job.SubmissionFailed, got.Status)
		assert.True(t, base.Equal(got.CreatedAt))

		list, err := store.ListSubmissions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "sub-1", list[0].ID)
	})

	t.Run("missing records", func(t *testing.T) {
		_, err := store.GetJob(ctx, "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = store.GetSubmission(ctx, "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, testStore(t))
}

func TestMemoryStores_AreIsolated(t *testing.T) {
	ctx := context.Background()
	a := testStore(t)
	b := testStore(t)

	require.NoError(t, a.SaveJob(ctx, sampleJob("only-in-a", time.Now())))
	_, err := b.GetJob(ctx, "only-in-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_FileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "taskflow.db")

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.SaveJob(ctx, sampleJob("job-persisted", time.Now())))
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "database file should exist")

	reopened, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob(ctx, "job-persisted")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "db.sqlite")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Type: "sqlite"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Type: "etcd"})
	assert.Error(t, err, "etcd without endpoints must fail")

	_, err = Open(ctx, Config{Type: "redis"})
	assert.ErrorContains(t, err, "unknown store type")
}

// TestEtcdStore_Contract needs a running etcd: set TASKFLOW_ETCD_ENDPOINTS.
func TestEtcdStore_Contract(t *testing.T) {
	endpoints := os.Getenv("TASKFLOW_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("TASKFLOW_ETCD_ENDPOINTS not set")
	}
	store, err := NewEtcdStore(strings.Split(endpoints, ","), "/taskflow-test/"+uuid.NewString()+"/")
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}
