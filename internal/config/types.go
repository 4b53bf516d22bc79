package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Modes.
const (
	ModeDevelopment = "development" // One worker, in-process backend
	ModeStandalone  = "standalone"  // Worker pool, any backend
)

// BackendConfig selects the execution surface for task bodies.
type BackendConfig struct {
	Type             string   `json:"type,omitempty"`               // "local", "process" or "docker"
	WorkDir          string   `json:"work_dir,omitempty"`           // Subprocess working directory
	Env              []string `json:"env,omitempty"`                // Extra KEY=VALUE pairs
	Image            string   `json:"image,omitempty"`              // Container image for docker
	DockerAPIVersion string   `json:"docker_api_version,omitempty"` // Empty negotiates with the daemon
}

// FunctionConfig maps a task function name to an external program, for the
// process and docker backends.
type FunctionConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// StoreConfig selects where job and submission records go.
type StoreConfig struct {
	Type      string   `json:"type,omitempty"`      // "sqlite", "etcd" or "memory"
	Path      string   `json:"path,omitempty"`      // SQLite database file
	Endpoints []string `json:"endpoints,omitempty"` // etcd endpoints
	Prefix    string   `json:"prefix,omitempty"`    // etcd key prefix
}

// RetryConfig configures retries of repository writes.
type RetryConfig struct {
	InitialInterval Duration `json:"initial_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty"`
	MaxElapsedTime  Duration `json:"max_elapsed_time,omitempty"`
	Multiplier      float64  `json:"multiplier,omitempty"`
}

// BreakerConfig configures the circuit breaker around the backend.
type BreakerConfig struct {
	FailureThreshold uint32   `json:"failure_threshold,omitempty"`
	OpenTimeout      Duration `json:"open_timeout,omitempty"`
}

// TaskflowConfig is the top-level configuration.
type TaskflowConfig struct {
	Mode       string                    `json:"mode,omitempty"`
	MaxWorkers int                       `json:"max_workers,omitempty"`
	LogLevel   string                    `json:"log_level,omitempty"`
	Backend    BackendConfig             `json:"backend"`
	Functions  map[string]FunctionConfig `json:"functions,omitempty"`
	Store      StoreConfig               `json:"store"`
	Retry      RetryConfig               `json:"retry"`
	Breaker    BreakerConfig             `json:"breaker"`
}

// Workers returns the effective worker count: one in development mode.
func (c *TaskflowConfig) Workers() int {
	if c.Mode == ModeDevelopment || c.MaxWorkers <= 0 {
		return 1
	}
	return c.MaxWorkers
}

// Validate checks the enumerated fields.
func (c *TaskflowConfig) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeStandalone:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative, got %d", c.MaxWorkers)
	}
	switch c.Backend.Type {
	case "local", "process", "docker":
	default:
		return fmt.Errorf("invalid backend type %q", c.Backend.Type)
	}
	if c.Mode == ModeDevelopment && c.Backend.Type != "local" {
		return fmt.Errorf("development mode runs tasks in-process, backend %q needs standalone mode", c.Backend.Type)
	}
	switch c.Store.Type {
	case "sqlite", "memory":
	case "etcd":
		if len(c.Store.Endpoints) == 0 {
			return fmt.Errorf("etcd store needs at least one endpoint")
		}
	default:
		return fmt.Errorf("invalid store type %q", c.Store.Type)
	}
	return nil
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
