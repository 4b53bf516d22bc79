// Package datanode defines the contract the orchestration core needs from a
// piece of data: read, write, an edit lock, and freshness derived from the
// last write and an optional validity period.
package datanode

import (
	"errors"
	"sync"
	"time"
)

// ErrNoData is returned by Read when the node has never been written.
var ErrNoData = errors.New("data node has no data")

// DataNode is a reference to a piece of data consumed or produced by tasks.
type DataNode interface {
	ID() string
	Read() (any, error)
	Write(value any) error

	// EditInProgress reports whether a job currently owns the node for writing.
	EditInProgress() bool
	SetEditInProgress(editing bool)

	// LastEdit is the time of the last successful write (zero if never written).
	LastEdit() time.Time
	// ValidityPeriod is how long a write stays fresh. Zero means forever.
	ValidityPeriod() time.Duration
	// IsUpToDate reports whether the node was written, is not being edited,
	// and has not outlived its validity period.
	IsUpToDate() bool
}

// Option configures the shared state of a data node.
type Option func(*base)

// WithValidity sets the validity period of the node.
func WithValidity(d time.Duration) Option {
	return func(b *base) { b.validity = d }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// base holds the lock, edit timestamp and validity shared by all node kinds.
type base struct {
	mu             sync.RWMutex
	id             string
	lastEdit       time.Time
	editInProgress bool
	validity       time.Duration
	now            func() time.Time
}

func (b *base) init(id string, opts []Option) {
	b.id = id
	b.now = time.Now
	for _, opt := range opts {
		opt(b)
	}
}

func (b *base) ID() string { return b.id }

func (b *base) EditInProgress() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.editInProgress
}

func (b *base) SetEditInProgress(editing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editInProgress = editing
}

func (b *base) LastEdit() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastEdit
}

func (b *base) ValidityPeriod() time.Duration { return b.validity }

func (b *base) IsUpToDate() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return UpToDate(b.lastEdit, b.editInProgress, b.validity, b.now())
}

// touch records a successful write. Caller holds b.mu.
func (b *base) touch() {
	b.lastEdit = b.now()
}

// UpToDate is the freshness rule shared by every node implementation.
func UpToDate(lastEdit time.Time, editing bool, validity time.Duration, now time.Time) bool {
	if lastEdit.IsZero() || editing {
		return false
	}
	if validity > 0 && now.After(lastEdit.Add(validity)) {
		return false
	}
	return true
}
