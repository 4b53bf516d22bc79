package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/job"
)

// ProcessFunc handles one dequeued job.
type ProcessFunc func(ctx context.Context, j *job.Job)

// Dispatcher feeds queued jobs to a bounded worker pool. Enqueue never
// blocks; Run suspends on a notification channel while the queue is empty.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []*job.Job
	notify  chan struct{}
	workers int
	process ProcessFunc
}

// NewDispatcher creates a dispatcher running at most workers jobs at once.
func NewDispatcher(workers int, process ProcessFunc) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		notify:  make(chan struct{}, 1),
		workers: workers,
		process: process,
	}
}

// Enqueue appends a job and wakes the loop.
func (d *Dispatcher) Enqueue(j *job.Job) {
	d.mu.Lock()
	d.queue = append(d.queue, j)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued jobs not yet handed to a worker.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Drain removes and returns every queued job.
func (d *Dispatcher) Drain() []*job.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	drained := d.queue
	d.queue = nil
	return drained
}

func (d *Dispatcher) pop() *job.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	j := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return j
}

// Run consumes the queue until ctx is done, then waits for the jobs already
// handed to workers. A worker slot is taken before a job is dequeued, so
// jobs still queued at shutdown stay available to Drain. Workers get a
// context that outlives ctx and finish their writes.
func (d *Dispatcher) Run(ctx context.Context) error {
	workCtx := context.WithoutCancel(ctx)
	slots := make(chan struct{}, d.workers)

	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return g.Wait()
		}

		j := d.next(ctx)
		if j == nil {
			return g.Wait()
		}
		g.Go(func() error {
			defer func() { <-slots }()
			d.process(workCtx, j)
			return nil
		})
	}
}

// next blocks until a job is queued or ctx is done.
func (d *Dispatcher) next(ctx context.Context) *job.Job {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if j := d.pop(); j != nil {
			return j
		}
		select {
		case <-d.notify:
		case <-ctx.Done():
			return nil
		}
	}
}
