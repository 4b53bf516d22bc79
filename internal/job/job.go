// Package job tracks task executions. A Job is one attempt at running a
// task; a Submission groups the jobs created by one submit call and rolls
// their statuses up into a single status.
package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Callback is invoked after every status change. Callbacks of one job never
// overlap and see transitions in the order they happened; the goroutine that
// made the transition delivers it unless another delivery is in progress, in
// which case that one picks it up. A callback reads the current status,
// which may already be past the transition being delivered.
type Callback func(j *Job)

// Job is one execution attempt of a Task.
type Job struct {
	mu             sync.RWMutex
	id             string
	task           *scheduler.Task
	force          bool
	status         Status
	createdAt      time.Time
	updatedAt      time.Time
	subscribers    []Callback
	stacktrace     []string
	submitID       string
	submitEntityID string

	done        chan struct{}
	observer    Callback
	now         func() time.Time
	undelivered []Status
	delivering  bool
}

// Option configures a Job at creation.
type Option func(*Job)

// Forced disables skipping for the job.
func Forced() Option {
	return func(j *Job) { j.force = true }
}

// WithCallbacks registers subscribers before the first transition.
func WithCallbacks(cbs ...Callback) Option {
	return func(j *Job) { j.subscribers = append(j.subscribers, cbs...) }
}

// WithObserver sets the hook run after the subscribers on every transition.
// The orchestrator uses it to persist and publish.
func WithObserver(fn Callback) Option {
	return func(j *Job) { j.observer = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithID overrides the generated id.
func WithID(id string) Option {
	return func(j *Job) { j.id = id }
}

// New creates a SUBMITTED job for task, linked to a submission.
func New(task *scheduler.Task, submitID, submitEntityID string, opts ...Option) *Job {
	j := &Job{
		task:           task,
		status:         StatusSubmitted,
		submitID:       submitID,
		submitEntityID: submitEntityID,
		done:           make(chan struct{}),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.id == "" {
		j.id = "JOB_" + task.ID() + "_" + uuid.NewString()
	}
	j.createdAt = j.now()
	j.updatedAt = j.createdAt
	return j
}

func (j *Job) ID() string             { return j.id }
func (j *Job) Task() *scheduler.Task  { return j.task }
func (j *Job) SubmitID() string       { return j.submitID }
func (j *Job) SubmitEntityID() string { return j.submitEntityID }
func (j *Job) CreatedAt() time.Time   { return j.createdAt }
func (j *Job) IsForced() bool         { return j.force }
func (j *Job) IsFinished() bool       { return j.Status().IsTerminal() }
func (j *Job) String() string         { return j.id }

// Done is closed when the job reaches a terminal status and its callbacks
// have returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// UpdatedAt is the time of the last transition.
func (j *Job) UpdatedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.updatedAt
}

// Stacktrace returns the collected error traces.
func (j *Job) Stacktrace() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]string(nil), j.stacktrace...)
}

// Subscribe appends a callback. Callbacks run in registration order.
func (j *Job) Subscribe(cb Callback) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subscribers = append(j.subscribers, cb)
}

func (j *Job) Block() error    { return j.transition(StatusBlocked, nil) }
func (j *Job) Pend() error     { return j.transition(StatusPending, nil) }
func (j *Job) Run() error      { return j.transition(StatusRunning, nil) }
func (j *Job) Complete() error { return j.transition(StatusCompleted, nil) }
func (j *Job) Skip() error     { return j.transition(StatusSkipped, nil) }
func (j *Job) Cancel() error   { return j.transition(StatusCanceled, nil) }
func (j *Job) Abandon() error  { return j.transition(StatusAbandoned, nil) }

// Fail moves the job to FAILED and records every error, in order.
func (j *Job) Fail(errs ...error) error { return j.transition(StatusFailed, errs) }

func (j *Job) transition(to Status, errs []error) error {
	j.mu.Lock()
	from := j.status
	if !CanTransition(from, to) {
		j.mu.Unlock()
		return &TransitionError{JobID: j.id, From: from, To: to}
	}
	j.status = to
	j.updatedAt = j.now()
	for _, err := range errs {
		if err != nil {
			j.stacktrace = append(j.stacktrace, formatTrace(err))
		}
	}
	j.undelivered = append(j.undelivered, to)
	if j.delivering {
		j.mu.Unlock()
		return nil
	}
	j.delivering = true
	j.mu.Unlock()

	j.deliver()
	return nil
}

// deliver runs subscribers then the observer for each queued transition
// until the queue is empty.
func (j *Job) deliver() {
	for {
		j.mu.Lock()
		if len(j.undelivered) == 0 {
			j.delivering = false
			j.mu.Unlock()
			return
		}
		to := j.undelivered[0]
		j.undelivered = j.undelivered[1:]
		subscribers := append([]Callback(nil), j.subscribers...)
		observer := j.observer
		j.mu.Unlock()

		for _, cb := range subscribers {
			cb(j)
		}
		if observer != nil {
			observer(j)
		}
		// Only one terminal transition can succeed, so done is closed once,
		// after every callback has seen the final status.
		if to.IsTerminal() {
			close(j.done)
		}
	}
}

// Tracer is implemented by errors that carry a captured stack.
type Tracer interface {
	Trace() string
}

func formatTrace(err error) string {
	var t Tracer
	if errors.As(err, &t) {
		return fmt.Sprintf("%v\n%s", err, t.Trace())
	}
	return err.Error()
}

// Record is the persisted form of a Job.
type Record struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	Force          bool      `json:"force"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Stacktrace     []string  `json:"stacktrace"`
	SubmitID       string    `json:"submit_id"`
	SubmitEntityID string    `json:"submit_entity_id"`
}

// Record snapshots the job for a repository.
func (j *Job) Record() Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Record{
		ID:             j.id,
		TaskID:         j.task.ID(),
		Force:          j.force,
		Status:         j.status,
		CreatedAt:      j.createdAt,
		UpdatedAt:      j.updatedAt,
		Stacktrace:     append([]string(nil), j.stacktrace...),
		SubmitID:       j.submitID,
		SubmitEntityID: j.submitEntityID,
	}
}
