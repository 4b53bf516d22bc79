package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/job"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// RetryConfig configures exponential backoff for repository writes.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 2s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// transitionRetryBudget caps the retry time of non-terminal job saves. They
// run inside scheduling and are superseded by the job's terminal save.
const transitionRetryBudget = time.Second

// forStatus returns the retry configuration for saving a job in status.
func (c RetryConfig) forStatus(status job.Status) RetryConfig {
	if !status.IsTerminal() && (c.MaxElapsedTime == 0 || c.MaxElapsedTime > transitionRetryBudget) {
		c.MaxElapsedTime = transitionRetryBudget
	}
	return c
}

// BreakerConfig configures the circuit breaker of each execution surface.
type BreakerConfig struct {
	FailureThreshold uint32        // Consecutive surface failures before tripping (default 5)
	OpenTimeout      time.Duration // How long the circuit stays open (default 30s)
	HalfOpenRequests uint32        // Probe requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// CircuitBreakerRegistry manages per-backend-type circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry. Zero
// fields of cfg take their defaults.
func NewCircuitBreakerRegistry(cfg BreakerConfig) *CircuitBreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given backend type.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(backendType string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[backendType]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backendType,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Log.WithFields(logrus.Fields{
				"backend": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")
		},
		IsSuccessful: surfaceHealthy,
	})

	r.breakers[backendType] = cb
	return cb
}

// surfaceHealthy reports whether err leaves the execution surface healthy.
// Task body failures and caller cancellation are not held against it.
func surfaceHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return backend.IsTaskError(err)
}

// executeWithBreaker runs the task body on b through cb. Open-circuit
// rejections are returned as-is and fail the job like any surface error.
func executeWithBreaker(ctx context.Context, b backend.Backend, cb *gobreaker.CircuitBreaker, task *scheduler.Task, inputs []any) (any, error) {
	return cb.Execute(func() (interface{}, error) {
		return b.Execute(ctx, task, inputs)
	})
}

// isTransient reports whether a repository error is worth retrying: SQLite
// lock contention or an etcd cluster that is temporarily unreachable.
var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"etcdserver: no leader",
	"etcdserver: leader changed",
	"etcdserver: request timed out",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, clientv3.ErrNoAvailableEndpoints) {
		return true
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryPersist runs a repository write with exponential backoff. Only
// transient errors are retried; anything else returns immediately.
func retryPersist(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = cfg.InitialInterval
	backoffPolicy.MaxInterval = cfg.MaxInterval
	backoffPolicy.MaxElapsedTime = cfg.MaxElapsedTime
	backoffPolicy.Multiplier = cfg.Multiplier
	backoffPolicy.RandomizationFactor = cfg.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(backoffPolicy, ctx))
}
