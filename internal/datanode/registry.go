package datanode

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type tags understood by DefaultRegistry.
const (
	TypeInMemory = "in_memory"
	TypeGeneric  = "generic"
)

// Properties carries the type-specific settings of a node definition.
type Properties map[string]any

// Constructor builds a node of one storage type.
type Constructor func(id string, props Properties) (DataNode, error)

// Registry maps a storage type tag to its constructor. It is filled
// explicitly at startup; nothing is discovered at runtime.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry holding the built-in node types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TypeInMemory, newInMemoryFromProps)
	_ = r.Register(TypeGeneric, newGenericFromProps)
	return r
}

// Register adds a constructor for tag. Registering the same tag twice is an error.
func (r *Registry) Register(tag string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[tag]; exists {
		return fmt.Errorf("data node type %q already registered", tag)
	}
	r.ctors[tag] = ctor
	return nil
}

// New builds a node of the given type.
func (r *Registry) New(tag, id string, props Properties) (DataNode, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown data node type %q for %q", tag, id)
	}
	return ctor(id, props)
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// commonOptions extracts the settings every node type accepts.
func commonOptions(props Properties) ([]Option, error) {
	var opts []Option
	raw, ok := props["validity"]
	if !ok || raw == nil {
		return opts, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		opts = append(opts, WithValidity(v))
	case string:
		if v == "" {
			break
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid validity %q: %w", v, err)
		}
		opts = append(opts, WithValidity(d))
	default:
		return nil, fmt.Errorf("invalid validity type %T", raw)
	}
	return opts, nil
}

func newInMemoryFromProps(id string, props Properties) (DataNode, error) {
	opts, err := commonOptions(props)
	if err != nil {
		return nil, fmt.Errorf("data node %q: %w", id, err)
	}
	if def, ok := props["default"]; ok && def != nil {
		return NewInMemoryWithDefault(id, def, opts...), nil
	}
	return NewInMemory(id, opts...), nil
}

func newGenericFromProps(id string, props Properties) (DataNode, error) {
	opts, err := commonOptions(props)
	if err != nil {
		return nil, fmt.Errorf("data node %q: %w", id, err)
	}
	read, _ := props["read_fct"].(ReadFunc)
	write, _ := props["write_fct"].(WriteFunc)
	if read == nil && write == nil {
		return nil, fmt.Errorf("generic data node %q needs read_fct or write_fct", id)
	}
	return NewGeneric(id, read, write, opts...), nil
}
