package datanode

import "fmt"

// ReadFunc loads the value of a generic node.
type ReadFunc func() (any, error)

// WriteFunc stores the value of a generic node.
type WriteFunc func(value any) error

// Generic delegates storage to user callbacks. Either callback may be nil,
// in which case the corresponding operation fails.
type Generic struct {
	base
	read  ReadFunc
	write WriteFunc
}

// NewGeneric creates a callback-backed node.
func NewGeneric(id string, read ReadFunc, write WriteFunc, opts ...Option) *Generic {
	n := &Generic{read: read, write: write}
	n.init(id, opts)
	return n
}

func (n *Generic) Read() (any, error) {
	if n.read == nil {
		return nil, fmt.Errorf("data node %q has no read function", n.id)
	}
	if n.LastEdit().IsZero() {
		return nil, fmt.Errorf("reading %q: %w", n.id, ErrNoData)
	}
	v, err := n.read()
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", n.id, err)
	}
	return v, nil
}

func (n *Generic) Write(value any) error {
	if n.write == nil {
		return fmt.Errorf("data node %q has no write function", n.id)
	}
	if err := n.write(value); err != nil {
		return fmt.Errorf("writing %q: %w", n.id, err)
	}
	n.mu.Lock()
	n.touch()
	n.mu.Unlock()
	return nil
}

// MarkWritten records an out-of-band write, e.g. data that already exists in
// the backing store before the first job runs.
func (n *Generic) MarkWritten() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.touch()
}
