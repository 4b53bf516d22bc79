package datanode

import "fmt"

// InMemory keeps its value in process memory.
type InMemory struct {
	base
	value    any
	hasValue bool
}

// NewInMemory creates an empty in-memory node.
func NewInMemory(id string, opts ...Option) *InMemory {
	n := &InMemory{}
	n.init(id, opts)
	return n
}

// NewInMemoryWithDefault creates an in-memory node already holding value.
// The default counts as a write, so the node is immediately up to date.
func NewInMemoryWithDefault(id string, value any, opts ...Option) *InMemory {
	n := NewInMemory(id, opts...)
	n.value = value
	n.hasValue = true
	n.touch()
	return n
}

func (n *InMemory) Read() (any, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.hasValue {
		return nil, fmt.Errorf("reading %q: %w", n.id, ErrNoData)
	}
	return n.value, nil
}

func (n *InMemory) Write(value any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = value
	n.hasValue = true
	n.touch()
	return nil
}
