package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aristath/taskflow/internal/scheduler"
)

// TestFactory_CreatesLocalBackend verifies the default surface
func TestFactory_CreatesLocalBackend(t *testing.T) {
	for _, typ := range []string{"", TypeLocal} {
		b, err := New(Config{Type: typ}, nil)
		if err != nil {
			t.Fatalf("Expected no error creating local backend, got: %v", err)
		}
		if b.Type() != TypeLocal {
			t.Errorf("Expected type %q, got %q", TypeLocal, b.Type())
		}
	}
}

// TestFactory_CreatesProcessBackend verifies process backend creation
func TestFactory_CreatesProcessBackend(t *testing.T) {
	pm := NewProcessManager()
	cfg := Config{
		Type:      TypeProcess,
		WorkDir:   t.TempDir(),
		Functions: map[string]Command{"echo": {Command: "cat"}},
	}

	b, err := New(cfg, pm)
	if err != nil {
		t.Fatalf("Expected no error creating process backend, got: %v", err)
	}
	if b.Type() != TypeProcess {
		t.Errorf("Expected type %q, got %q", TypeProcess, b.Type())
	}
}

// TestFactory_ProcessBackendRequiresFunctions verifies configuration validation
func TestFactory_ProcessBackendRequiresFunctions(t *testing.T) {
	if _, err := New(Config{Type: TypeProcess}, nil); err == nil {
		t.Fatal("Expected error for process backend without functions")
	}
}

// TestFactory_DockerBackendRequiresImage verifies configuration validation
func TestFactory_DockerBackendRequiresImage(t *testing.T) {
	if _, err := New(Config{Type: TypeDocker}, nil); err == nil {
		t.Fatal("Expected error for docker backend without image")
	}
}

// TestFactory_UnknownType verifies error for unknown backend type
func TestFactory_UnknownType(t *testing.T) {
	_, err := New(Config{Type: "unknown-backend"}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown backend type, got nil")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Expected error message to contain 'unknown backend type', got: %v", err)
	}
}

// TestLocalBackend_Execute verifies the body receives inputs in order
func TestLocalBackend_Execute(t *testing.T) {
	task := scheduler.NewTask("sum", func(_ context.Context, inputs []any) (any, error) {
		return inputs[0].(int) + inputs[1].(int), nil
	}, nil, nil)

	got, err := NewLocalBackend().Execute(context.Background(), task, []any{2, 3})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != 5 {
		t.Errorf("Expected 5, got %v", got)
	}
}

// TestLocalBackend_BodyErrorIsTaskError verifies body failures are marked
func TestLocalBackend_BodyErrorIsTaskError(t *testing.T) {
	bodyErr := errors.New("division by zero")
	task := scheduler.NewTask("div", func(context.Context, []any) (any, error) {
		return nil, bodyErr
	}, nil, nil)

	_, err := NewLocalBackend().Execute(context.Background(), task, nil)
	if !IsTaskError(err) {
		t.Fatalf("Expected *TaskError, got %T: %v", err, err)
	}
	if !errors.Is(err, bodyErr) {
		t.Errorf("Expected error to wrap body error, got: %v", err)
	}
}

// TestLocalBackend_PanicRecovered verifies panics are captured with a stack
func TestLocalBackend_PanicRecovered(t *testing.T) {
	task := scheduler.NewTask("explode", func(context.Context, []any) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	}, nil, nil)

	_, err := NewLocalBackend().Execute(context.Background(), task, nil)
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PanicError, got %T: %v", err, err)
	}
	if !IsTaskError(err) {
		t.Error("Expected panic to be reported as a task error")
	}
	if !strings.Contains(pe.Trace(), "goroutine") {
		t.Errorf("Expected a stack trace, got: %s", pe.Trace())
	}
}

// TestLocalBackend_NoFunction verifies a missing body is a task error
func TestLocalBackend_NoFunction(t *testing.T) {
	task := scheduler.NewTask("empty", nil, nil, nil)
	_, err := NewLocalBackend().Execute(context.Background(), task, nil)
	if !errors.Is(err, ErrNoFunction) || !IsTaskError(err) {
		t.Errorf("Expected task error wrapping ErrNoFunction, got: %v", err)
	}
}
