package backend

import (
	"context"
	"runtime/debug"

	"github.com/aristath/taskflow/internal/scheduler"
)

// LocalBackend runs task bodies on the calling goroutine.
type LocalBackend struct{}

// NewLocalBackend creates an in-process backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

// Execute calls the task body. Errors and panics become *TaskError.
func (b *LocalBackend) Execute(ctx context.Context, task *scheduler.Task, inputs []any) (result any, err error) {
	fn := task.Func()
	if fn == nil {
		return nil, &TaskError{TaskID: task.ID(), Err: ErrNoFunction}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &TaskError{TaskID: task.ID(), Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()

	result, err = fn(ctx, inputs)
	if err != nil {
		return nil, &TaskError{TaskID: task.ID(), Err: err}
	}
	return result, nil
}

// Close is a no-op for the local backend.
func (b *LocalBackend) Close() error { return nil }

// Type returns "local".
func (b *LocalBackend) Type() string { return TypeLocal }
