package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned by lookups and Cancel for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrSubmissionNotFound is returned for unknown submission ids.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrTimeout is returned when Wait gives up before every job finished.
	ErrTimeout = errors.New("timed out waiting for jobs")
	// ErrStopped is returned by Submit and Start once Stop has run.
	ErrStopped = errors.New("orchestrator stopped")
	// ErrWrongNumberOfResults means a multi-output task returned a value whose
	// length does not match its declared outputs. No output is written.
	ErrWrongNumberOfResults = errors.New("wrong number of results")
)

// WriteError is the failure to write one output data node.
type WriteError struct {
	DataNodeID string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.DataNodeID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is the failure to read one input data node.
type ReadError struct {
	DataNodeID string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.DataNodeID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
