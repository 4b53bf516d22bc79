package job

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a Job.
type Status int

const (
	StatusSubmitted Status = iota // Created, not yet scheduled
	StatusBlocked                 // Waiting on predecessor jobs or edited inputs
	StatusPending                 // Queued for a worker
	StatusRunning                 // Task body executing
	StatusCanceled                // Canceled before it started
	StatusFailed                  // Body, read or write error
	StatusCompleted               // Body ran and every output was written
	StatusSkipped                 // Outputs were already up to date
	StatusAbandoned               // A predecessor was canceled or failed
)

var statusNames = map[Status]string{
	StatusSubmitted: "SUBMITTED",
	StatusBlocked:   "BLOCKED",
	StatusPending:   "PENDING",
	StatusRunning:   "RUNNING",
	StatusCanceled:  "CANCELED",
	StatusFailed:    "FAILED",
	StatusCompleted: "COMPLETED",
	StatusSkipped:   "SKIPPED",
	StatusAbandoned: "ABANDONED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusFailed, StatusCompleted, StatusSkipped, StatusAbandoned:
		return true
	}
	return false
}

// IsStarted reports whether the job reached RUNNING or an outcome of running.
func (s Status) IsStarted() bool {
	return s == StatusRunning || s == StatusCompleted || s == StatusFailed
}

// transitions lists the allowed successor states. Nothing leads back to
// SUBMITTED and terminal states have no successors.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusBlocked, StatusPending, StatusCanceled, StatusAbandoned},
	StatusBlocked:   {StatusPending, StatusCanceled, StatusAbandoned},
	StatusPending:   {StatusRunning, StatusSkipped, StatusCanceled, StatusAbandoned, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a job is moved to a state that does
// not follow from its current one.
var ErrInvalidTransition = errors.New("invalid job status transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: %s -> %s: %v", e.JobID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
