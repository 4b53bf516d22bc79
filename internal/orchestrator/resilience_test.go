package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/job"
	"github.com/aristath/taskflow/internal/scheduler"
)

// scriptedBackend returns the configured results in order.
type scriptedBackend struct {
	mu        sync.Mutex
	results   []error
	callCount int
}

func (b *scriptedBackend) Execute(ctx context.Context, task *scheduler.Task, inputs []any) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.callCount >= len(b.results) {
		return nil, fmt.Errorf("unexpected call %d (only %d results configured)", b.callCount+1, len(b.results))
	}
	err := b.results[b.callCount]
	b.callCount++
	if err != nil {
		return nil, err
	}
	return "ok", nil
}

func (b *scriptedBackend) Close() error { return nil }
func (b *scriptedBackend) Type() string { return "scripted" }

func (b *scriptedBackend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callCount
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      500 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// TestRetryPersist_TransientThenSuccess verifies lock contention is retried.
func TestRetryPersist_TransientThenSuccess(t *testing.T) {
	calls := 0
	err := retryPersist(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("save job: database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

// TestRetryPersist_PermanentError verifies non-transient errors are not retried.
func TestRetryPersist_PermanentError(t *testing.T) {
	calls := 0
	err := retryPersist(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return errors.New("constraint failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestRetryPersist_ContextCancelled_StopsRetry verifies cancellation ends retries.
func TestRetryPersist_ContextCancelled_StopsRetry(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxElapsedTime = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryPersist(ctx, cfg, func(context.Context) error {
		return clientv3.ErrNoAvailableEndpoints
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error due to context cancellation")
	}
	if elapsed > time.Second {
		t.Errorf("retryPersist took %v, context should stop retries", elapsed)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{fmt.Errorf("save: %w", errors.New("SQLITE_LOCKED")), true},
		{fmt.Errorf("put: %w", clientv3.ErrNoAvailableEndpoints), true},
		{errors.New("etcdserver: leader changed"), true},
		{errors.New("UNIQUE constraint failed"), false},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// TestCircuitBreaker_TripsOnSurfaceFailures verifies the circuit opens after
// consecutive surface failures and rejects further calls.
func TestCircuitBreaker_TripsOnSurfaceFailures(t *testing.T) {
	results := make([]error, 10)
	for i := range results {
		results[i] = fmt.Errorf("daemon unreachable %d", i+1)
	}
	b := &scriptedBackend{results: results}
	cb := NewCircuitBreakerRegistry(BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute}).Get(b.Type())
	task := scheduler.NewTask("t", nil, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := executeWithBreaker(context.Background(), b, cb, task, nil); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}

	_, err := executeWithBreaker(context.Background(), b, cb, task, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if b.CallCount() != 3 {
		t.Errorf("open circuit must not reach the backend, got %d calls", b.CallCount())
	}
}

// TestCircuitBreaker_TaskErrorsNotCounted verifies task body failures leave
// the circuit closed.
func TestCircuitBreaker_TaskErrorsNotCounted(t *testing.T) {
	results := make([]error, 6)
	for i := range results {
		results[i] = &backend.TaskError{TaskID: "t", Err: errors.New("bad input")}
	}
	b := &scriptedBackend{results: results}
	cb := NewCircuitBreakerRegistry(BreakerConfig{FailureThreshold: 2}).Get(b.Type())
	task := scheduler.NewTask("t", nil, nil, nil)

	for range results {
		_, err := executeWithBreaker(context.Background(), b, cb, task, nil)
		if !backend.IsTaskError(err) {
			t.Fatalf("expected task error, got %v", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed circuit, got %v", cb.State())
	}
}

// TestCircuitBreaker_UserCancellationNotCounted verifies cancellation is not
// held against the surface.
func TestCircuitBreaker_UserCancellationNotCounted(t *testing.T) {
	b := &scriptedBackend{results: []error{context.Canceled, context.Canceled, context.DeadlineExceeded}}
	cb := NewCircuitBreakerRegistry(BreakerConfig{FailureThreshold: 1}).Get(b.Type())
	task := scheduler.NewTask("t", nil, nil, nil)

	for range b.results {
		_, _ = executeWithBreaker(context.Background(), b, cb, task, nil)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed circuit, got %v", cb.State())
	}
}

// TestCircuitBreakerRegistry_PerBackendType verifies circuit breakers are per-backend-type.
func TestCircuitBreakerRegistry_PerBackendType(t *testing.T) {
	registry := NewCircuitBreakerRegistry(BreakerConfig{})

	localA := registry.Get(backend.TypeLocal)
	localB := registry.Get(backend.TypeLocal)
	docker := registry.Get(backend.TypeDocker)

	if localA != localB {
		t.Error("expected same circuit breaker instance for 'local'")
	}
	if localA == docker {
		t.Error("expected different circuit breaker instances for 'local' and 'docker'")
	}
	if docker.Name() != backend.TypeDocker {
		t.Errorf("expected circuit breaker name %q, got %q", backend.TypeDocker, docker.Name())
	}
}

func TestRetryConfig_ForStatus(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, transitionRetryBudget, cfg.forStatus(job.StatusPending).MaxElapsedTime)
	assert.Equal(t, transitionRetryBudget, cfg.forStatus(job.StatusBlocked).MaxElapsedTime)
	assert.Equal(t, cfg.MaxElapsedTime, cfg.forStatus(job.StatusCompleted).MaxElapsedTime)

	unbounded := cfg
	unbounded.MaxElapsedTime = 0
	assert.Equal(t, transitionRetryBudget, unbounded.forStatus(job.StatusRunning).MaxElapsedTime)

	short := fastRetry()
	assert.Equal(t, short, short.forStatus(job.StatusRunning))
}
