package scheduler

import (
	"context"
	"sync"

	"github.com/aristath/taskflow/internal/datanode"
)

// TaskFunc is the body of a task. It receives the values of the input data
// nodes in declaration order. With exactly one output the return value is the
// result itself; with several outputs it must be a slice with one element per
// output.
type TaskFunc func(ctx context.Context, inputs []any) (any, error)

// Task is a unit of computation wired to data nodes.
// Identity and data node bindings are fixed at construction; the body and
// the skippable flag can be changed through setters.
type Task struct {
	id       string
	function string // name in a Registry, used by out-of-process backends
	inputs   []datanode.DataNode
	outputs  []datanode.DataNode

	mu        sync.RWMutex
	fn        TaskFunc
	skippable bool
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// Skippable marks the task as eligible for skipping when its outputs are current.
func Skippable() TaskOption {
	return func(t *Task) { t.skippable = true }
}

// WithFunctionName records the registry name of the task body.
func WithFunctionName(name string) TaskOption {
	return func(t *Task) { t.function = name }
}

// NewTask creates a task. inputs and outputs keep their declaration order.
func NewTask(id string, fn TaskFunc, inputs, outputs []datanode.DataNode, opts ...TaskOption) *Task {
	t := &Task{
		id:      id,
		fn:      fn,
		inputs:  append([]datanode.DataNode(nil), inputs...),
		outputs: append([]datanode.DataNode(nil), outputs...),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.function == "" {
		t.function = id
	}
	return t
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// FunctionName returns the registry name of the task body.
func (t *Task) FunctionName() string { return t.function }

// Inputs returns the input data nodes in declaration order.
func (t *Task) Inputs() []datanode.DataNode {
	return append([]datanode.DataNode(nil), t.inputs...)
}

// Outputs returns the output data nodes in declaration order.
func (t *Task) Outputs() []datanode.DataNode {
	return append([]datanode.DataNode(nil), t.outputs...)
}

// Input looks up an input by data node id.
func (t *Task) Input(id string) (datanode.DataNode, bool) {
	return findNode(t.inputs, id)
}

// Output looks up an output by data node id.
func (t *Task) Output(id string) (datanode.DataNode, bool) {
	return findNode(t.outputs, id)
}

// Func returns the task body.
func (t *Task) Func() TaskFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fn
}

// SetFunc replaces the task body.
func (t *Task) SetFunc(fn TaskFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
}

// IsSkippable reports whether the task may be skipped.
func (t *Task) IsSkippable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.skippable
}

// SetSkippable changes the skippable flag.
func (t *Task) SetSkippable(skippable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skippable = skippable
}

// SubmittableID implements Submittable.
func (t *Task) SubmittableID() string { return t.id }

// EntityType implements Submittable.
func (t *Task) EntityType() string { return EntityTask }

// Tasks implements Submittable.
func (t *Task) Tasks() []*Task { return []*Task{t} }

// BuildGraph implements Submittable.
func (t *Task) BuildGraph() (*Graph, error) { return BuildGraph(t.Tasks()) }

func findNode(nodes []datanode.DataNode, id string) (datanode.DataNode, bool) {
	for _, dn := range nodes {
		if dn != nil && dn.ID() == id {
			return dn, true
		}
	}
	return nil, false
}
