// Package backend provides the execution surfaces a job's task body can run
// on: in-process goroutines, subprocesses, or docker containers.
package backend

import (
	"context"
	"fmt"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Backend defines the interface that all execution surfaces must implement.
type Backend interface {
	// Execute runs the task body with the given input values and returns its
	// raw result. Failures of the body itself are returned as *TaskError.
	Execute(ctx context.Context, task *scheduler.Task, inputs []any) (any, error)

	// Close releases the surface's resources.
	Close() error

	// Type returns the configured surface name.
	Type() string
}

// New creates a new backend based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate surface.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "", TypeLocal:
		return NewLocalBackend(), nil
	case TypeProcess:
		return NewProcessBackend(cfg, pm)
	case TypeDocker:
		return NewDockerBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
