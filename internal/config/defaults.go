package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the default configuration: a standalone worker pool
// running task bodies in-process and recording jobs in a project SQLite file.
func DefaultConfig() *TaskflowConfig {
	return &TaskflowConfig{
		Mode:       ModeStandalone,
		MaxWorkers: 4,
		LogLevel:   "info",
		Backend: BackendConfig{
			Type: "local",
		},
		Functions: map[string]FunctionConfig{},
		Store: StoreConfig{
			Type: "sqlite",
			Path: filepath.Join(".taskflow", "taskflow.db"),
		},
		Retry: RetryConfig{
			InitialInterval: Duration(50 * time.Millisecond),
			MaxInterval:     Duration(2 * time.Second),
			MaxElapsedTime:  Duration(10 * time.Second),
			Multiplier:      2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      Duration(30 * time.Second),
		},
	}
}
