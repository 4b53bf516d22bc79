package scheduler

import (
	"context"
	"sort"
	"sync"
)

// ResourceLockManager provides per-data-node mutual exclusion for jobs that
// write the same outputs. Each data node id gets a one-slot channel, so
// acquisition can be abandoned when the context is cancelled.
type ResourceLockManager struct {
	mu    sync.Mutex               // Guards the slots map itself
	slots map[string]chan struct{} // Per-data-node slots
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		slots: make(map[string]chan struct{}),
	}
}

func (r *ResourceLockManager) slot(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		r.slots[id] = s
	}
	return s
}

// Lock acquires the lock for one data node id, blocking until it is free or
// ctx is done.
func (r *ResourceLockManager) Lock(ctx context.Context, id string) error {
	select {
	case r.slot(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock for one data node id. Unlocking a free id is a no-op.
func (r *ResourceLockManager) Unlock(id string) {
	select {
	case <-r.slot(id):
	default:
	}
}

// Held reports whether id is currently locked.
func (r *ResourceLockManager) Held(id string) bool {
	return len(r.slot(id)) == 1
}

// LockAll acquires every id. Ids are deduplicated and taken in sorted order
// so two jobs with overlapping outputs cannot deadlock. On failure the locks
// already taken are released.
func (r *ResourceLockManager) LockAll(ctx context.Context, ids []string) error {
	sorted := sortedUnique(ids)
	for i, id := range sorted {
		if err := r.Lock(ctx, id); err != nil {
			for j := i - 1; j >= 0; j-- {
				r.Unlock(sorted[j])
			}
			return err
		}
	}
	return nil
}

// UnlockAll releases every id in reverse sorted order.
func (r *ResourceLockManager) UnlockAll(ids []string) {
	sorted := sortedUnique(ids)
	for i := len(sorted) - 1; i >= 0; i-- {
		r.Unlock(sorted[i])
	}
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, id := range sorted[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
