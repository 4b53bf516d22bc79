package backend

import (
	"errors"
	"fmt"
)

// Backend type names.
const (
	TypeLocal   = "local"
	TypeProcess = "process"
	TypeDocker  = "docker"
)

// Command is an external program implementing a task function.
type Command struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Config defines the configuration for a backend.
type Config struct {
	Type             string             // "local", "process", or "docker"
	WorkDir          string             // Working directory for subprocesses
	Env              []string           // Extra KEY=VALUE pairs for subprocesses and containers
	Functions        map[string]Command // Function name -> program, for process and docker
	Image            string             // Container image for docker
	DockerAPIVersion string             // Empty negotiates with the daemon
}

var (
	// ErrNoFunction means the task has no body on this surface.
	ErrNoFunction = errors.New("no function for task")
	// ErrInvalidResult means a subprocess or container printed something
	// that is not a JSON value.
	ErrInvalidResult = errors.New("invalid task result")
)

// TaskError is a failure of the task body, as opposed to a failure of the
// execution surface. Circuit breakers ignore it.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// IsTaskError reports whether err came from the task body.
func IsTaskError(err error) bool {
	var te *TaskError
	return errors.As(err, &te)
}

// PanicError is a recovered panic from an in-process task body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Trace returns the stack captured at the panic.
func (e *PanicError) Trace() string { return string(e.Stack) }
