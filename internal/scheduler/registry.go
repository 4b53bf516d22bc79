package scheduler

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps function names to task bodies. Tasks loaded from definitions
// resolve their body here instead of importing code by name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]TaskFunc
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]TaskFunc)}
}

// Register adds fn under name. Returns error if the name is taken.
func (r *Registry) Register(name string, fn TaskFunc) error {
	if fn == nil {
		return fmt.Errorf("function %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered functions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
