package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph covers nil entities, dangling references and
	// inconsistent task / data node bindings.
	ErrInvalidGraph = errors.New("invalid dependency graph")
	// ErrCyclicGraph means the task / data node graph has a cycle.
	ErrCyclicGraph = errors.New("dependency graph contains a cycle")
)

// GraphError wraps a graph construction failure with its kind.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cyclef(format string, args ...any) error {
	return &GraphError{Kind: ErrCyclicGraph, Msg: fmt.Sprintf(format, args...)}
}
