// Package orchestrator turns submittables into jobs and drives them to a
// terminal status. Jobs of later generations are held BLOCKED until the jobs
// producing their inputs succeed; runnable jobs go through the Dispatcher,
// which locks outputs, applies the skip rule and runs the task body on the
// configured backend.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/job"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Publisher receives job and submission notifications. *events.EventBus
// implements it.
type Publisher interface {
	Publish(topic string, event events.Event)
}

// Config wires the orchestrator's collaborators. Only Backend is needed in
// practice; nil Store and Publisher disable persistence and notifications.
type Config struct {
	MaxWorkers int                     // Concurrent jobs (default 4)
	Backend    backend.Backend         // Execution surface (default local)
	Store      persistence.Store       // Job and submission repository
	Publisher  Publisher               // Notification sink
	Breakers   *CircuitBreakerRegistry // Shared breakers (default per orchestrator)
	Retry      RetryConfig             // Repository write retry (default DefaultRetryConfig)
}

// Orchestrator is the submission entry point.
type Orchestrator struct {
	backend    backend.Backend
	store      persistence.Store
	publisher  Publisher
	breakers   *CircuitBreakerRegistry
	retry      RetryConfig
	locks      *scheduler.ResourceLockManager
	dispatcher *Dispatcher

	mu          sync.RWMutex
	jobs        map[string]*job.Job
	jobOrder    []string
	submissions map[string]*submissionState
	subOrder    []string

	// schedMu serializes the BLOCKED/PENDING decision so a job cannot be
	// blocked after the event that would have released it. Transitions run
	// after it is released; callbacks may re-enter the orchestrator.
	schedMu sync.Mutex
	blocked map[string]*job.Job

	// runMu guards the dispatch loop and halted. Enqueue happens under it so
	// Stop's drain sees every job queued before halted was set.
	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	halted  bool
}

// submissionState keeps what the orchestrator needs to resolve dependencies
// among the jobs of one submission.
type submissionState struct {
	sub        *job.Submission
	graph      *scheduler.Graph
	jobsByTask map[string]*job.Job
}

// New creates an orchestrator. Call Start to begin dispatching.
func New(cfg Config) *Orchestrator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Backend == nil {
		cfg.Backend = backend.NewLocalBackend()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewCircuitBreakerRegistry(BreakerConfig{})
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	o := &Orchestrator{
		backend:     cfg.Backend,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		breakers:    cfg.Breakers,
		retry:       cfg.Retry,
		locks:       scheduler.NewResourceLockManager(),
		jobs:        make(map[string]*job.Job),
		submissions: make(map[string]*submissionState),
		blocked:     make(map[string]*job.Job),
	}
	o.dispatcher = NewDispatcher(cfg.MaxWorkers, o.processJob)
	return o
}

// Start launches the dispatch loop. It returns an error if already running
// and ErrStopped after Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.halted {
		return ErrStopped
	}
	if o.cancel != nil {
		return errors.New("orchestrator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.stopped = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := o.dispatcher.Run(runCtx); err != nil {
			logging.Log.WithError(err).Error("dispatcher stopped with error")
		}
	}(o.stopped)

	logging.Log.WithField("backend", o.backend.Type()).Info("orchestrator started")
	return nil
}

// Stop ends the dispatch loop, waits for in-flight jobs and cancels every
// job still queued. Blocked jobs are abandoned by the resulting cascade.
// Later submits fail with ErrStopped; jobs released after Stop are canceled
// instead of queued.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	cancel, stopped := o.cancel, o.stopped
	o.cancel, o.stopped = nil, nil
	o.halted = true
	o.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}

	for _, j := range o.dispatcher.Drain() {
		if err := j.Cancel(); err != nil {
			logging.Log.WithField("job_id", j.ID()).WithError(err).Debug("queued job not canceled on stop")
		}
	}
	if cancel != nil {
		logging.Log.Info("orchestrator stopped")
	}
}

func (o *Orchestrator) isHalted() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.halted
}

// SubmitOption configures one Submit call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	force     bool
	wait      bool
	timeout   time.Duration
	callbacks []job.Callback
}

// Force disables skipping for every job of the submission.
func Force() SubmitOption {
	return func(o *submitOptions) { o.force = true }
}

// Wait makes Submit block until every job is terminal. A zero timeout waits
// until ctx is done.
func Wait(timeout time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.wait = true
		o.timeout = timeout
	}
}

// WithCallbacks subscribes cbs to every job of the submission.
func WithCallbacks(cbs ...job.Callback) SubmitOption {
	return func(o *submitOptions) { o.callbacks = append(o.callbacks, cbs...) }
}

// Submit builds the dependency graph of s, creates one job per task in
// generation order and schedules them. Graph errors are returned before any
// job exists. With Wait, the jobs are returned together with ErrTimeout if
// they did not all finish in time. A stopped orchestrator returns ErrStopped.
func (o *Orchestrator) Submit(ctx context.Context, s scheduler.Submittable, opts ...SubmitOption) ([]*job.Job, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}
	if o.isHalted() {
		return nil, fmt.Errorf("submit %s: %w", s.SubmittableID(), ErrStopped)
	}

	graph, err := s.BuildGraph()
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", s.SubmittableID(), err)
	}

	sub := job.NewSubmission(s.SubmittableID(), s.EntityType())
	state := &submissionState{
		sub:        sub,
		graph:      graph,
		jobsByTask: make(map[string]*job.Job),
	}

	jobOpts := []job.Option{job.WithCallbacks(so.callbacks...), job.WithObserver(o.onJobChanged)}
	if so.force {
		jobOpts = append(jobOpts, job.Forced())
	}

	var created []*job.Job
	for _, generation := range graph.Generations() {
		for _, task := range generation {
			j := job.New(task, sub.ID(), s.SubmittableID(), jobOpts...)
			sub.AddJob(j.ID())
			state.jobsByTask[task.ID()] = j
			created = append(created, j)
		}
	}

	o.mu.Lock()
	o.submissions[sub.ID()] = state
	o.subOrder = append(o.subOrder, sub.ID())
	for _, j := range created {
		o.jobs[j.ID()] = j
		o.jobOrder = append(o.jobOrder, j.ID())
	}
	o.mu.Unlock()

	o.persistSubmission(ctx, sub)
	o.publish(events.TopicSubmission, events.SubmissionEvent{
		SubmissionID: sub.ID(),
		Submittable:  s.SubmittableID(),
		Operation:    events.OperationCreation,
		Status:       sub.Status().String(),
		Timestamp:    time.Now(),
	})
	for _, j := range created {
		o.persistJob(ctx, j, job.StatusSubmitted)
		o.publishJob(j, events.OperationCreation)
	}

	logging.Log.WithFields(logrus.Fields{
		"submission_id": sub.ID(),
		"entity_id":     s.SubmittableID(),
		"jobs":          len(created),
		"force":         so.force,
	}).Info("submitted")

	o.schedule(state, created)

	if so.wait {
		return created, o.Wait(ctx, created, so.timeout)
	}
	return created, nil
}

// Cancel cancels a job that has not started. Its not-yet-started dependents
// are abandoned. Canceling a running or finished job returns the rejected
// transition and changes nothing. When another goroutine is delivering the
// job's callbacks, the cascade runs there after Cancel returns.
func (o *Orchestrator) Cancel(jobID string) error {
	j, ok := o.Job(jobID)
	if !ok {
		return fmt.Errorf("cancel %s: %w", jobID, ErrJobNotFound)
	}
	return j.Cancel()
}

// Wait blocks until every job is terminal, ctx is done, or timeout elapses.
// A zero timeout means no limit beyond ctx.
func (o *Orchestrator) Wait(ctx context.Context, jobs []*job.Job, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: job %s is %s", ErrTimeout, j.ID(), j.Status())
			}
			return ctx.Err()
		}
	}
	return nil
}

// Job returns a job by id.
func (o *Orchestrator) Job(id string) (*job.Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	j, ok := o.jobs[id]
	return j, ok
}

// Jobs returns every job in creation order.
func (o *Orchestrator) Jobs() []*job.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	jobs := make([]*job.Job, 0, len(o.jobOrder))
	for _, id := range o.jobOrder {
		jobs = append(jobs, o.jobs[id])
	}
	return jobs
}

// Submission returns a submission by id.
func (o *Orchestrator) Submission(id string) (*job.Submission, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.submissions[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, ErrSubmissionNotFound)
	}
	return state.sub, nil
}

// Submissions returns every submission in creation order.
func (o *Orchestrator) Submissions() []*job.Submission {
	o.mu.RLock()
	defer o.mu.RUnlock()
	subs := make([]*job.Submission, 0, len(o.subOrder))
	for _, id := range o.subOrder {
		subs = append(subs, o.submissions[id].sub)
	}
	return subs
}

func (o *Orchestrator) submissionOf(j *job.Job) *submissionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.submissions[j.SubmitID()]
}

func (o *Orchestrator) resolveStatus(jobID string) (job.Status, bool) {
	j, ok := o.Job(jobID)
	if !ok {
		return 0, false
	}
	return j.Status(), true
}

// ready reports whether every producer of j's inputs succeeded and no input
// is being written.
func (o *Orchestrator) ready(state *submissionState, j *job.Job) bool {
	task := j.Task()
	for _, pred := range state.graph.Predecessors(task.ID()) {
		pj, ok := state.jobsByTask[pred.ID()]
		if !ok {
			continue
		}
		switch pj.Status() {
		case job.StatusCompleted, job.StatusSkipped:
		default:
			return false
		}
	}
	for _, dn := range task.Inputs() {
		if dn.EditInProgress() {
			return false
		}
	}
	return true
}

// schedule parks the jobs whose inputs are not ready as BLOCKED and queues
// the rest. Decisions are taken under schedMu; the transitions run after.
func (o *Orchestrator) schedule(state *submissionState, jobs []*job.Job) {
	var ready, waiting []*job.Job
	o.schedMu.Lock()
	for _, j := range jobs {
		if o.ready(state, j) {
			ready = append(ready, j)
			continue
		}
		o.blocked[j.ID()] = j
		waiting = append(waiting, j)
	}
	o.schedMu.Unlock()

	for _, j := range waiting {
		// Fails when a release, cancel or cascade got there first.
		if err := j.Block(); err != nil && j.IsFinished() {
			o.schedMu.Lock()
			delete(o.blocked, j.ID())
			o.schedMu.Unlock()
		}
	}
	o.pend(ready)
}

// releaseBlocked pends every blocked job whose inputs became ready and drops
// the ones that reached a terminal status meanwhile.
func (o *Orchestrator) releaseBlocked() {
	var ready []*job.Job
	o.schedMu.Lock()
	for id, j := range o.blocked {
		if j.IsFinished() {
			delete(o.blocked, id)
			continue
		}
		state := o.submissionOf(j)
		if state == nil || !o.ready(state, j) {
			continue
		}
		delete(o.blocked, id)
		ready = append(ready, j)
	}
	o.schedMu.Unlock()

	o.pend(ready)
}

func (o *Orchestrator) pend(jobs []*job.Job) {
	for _, j := range jobs {
		if err := j.Pend(); err != nil {
			continue
		}
		o.enqueue(j)
	}
}

// enqueue hands j to the dispatcher, or cancels it once Stop has run.
func (o *Orchestrator) enqueue(j *job.Job) {
	o.runMu.Lock()
	halted := o.halted
	if !halted {
		o.dispatcher.Enqueue(j)
	}
	o.runMu.Unlock()

	if halted {
		if err := j.Cancel(); err != nil {
			logging.Log.WithField("job_id", j.ID()).WithError(err).Debug("job released after stop not canceled")
		}
	}
}

// abandonDependents abandons the not-yet-started jobs downstream of j.
func (o *Orchestrator) abandonDependents(state *submissionState, j *job.Job) {
	for _, t := range state.graph.Descendants(j.Task().ID()) {
		dj, ok := state.jobsByTask[t.ID()]
		if !ok || dj.IsFinished() || dj.Status().IsStarted() {
			continue
		}
		if err := dj.Abandon(); err != nil && !errors.Is(err, job.ErrInvalidTransition) {
			logging.Log.WithField("job_id", dj.ID()).WithError(err).Warn("abandon failed")
		}
	}
}

// onJobChanged is every job's observer: persist, publish, roll the
// submission up, then cascade and release blocked jobs on terminal status.
func (o *Orchestrator) onJobChanged(j *job.Job) {
	ctx := context.Background()
	status := j.Status()

	logging.Log.WithFields(logrus.Fields{
		"job_id":        j.ID(),
		"task_id":       j.Task().ID(),
		"submission_id": j.SubmitID(),
		"status":        status.String(),
	}).Debug("job status changed")

	o.persistJob(ctx, j, status)
	o.publishJob(j, events.OperationUpdate)

	state := o.submissionOf(j)
	if state == nil {
		return
	}
	o.recompute(ctx, state)

	if !status.IsTerminal() {
		return
	}
	switch status {
	case job.StatusFailed, job.StatusCanceled, job.StatusAbandoned:
		o.abandonDependents(state, j)
	}
	o.releaseBlocked()
}

func (o *Orchestrator) recompute(ctx context.Context, state *submissionState) {
	sub := state.sub
	status, changed := sub.RecomputeStatus(o.resolveStatus)
	if changed {
		o.persistSubmission(ctx, sub)
		o.publish(events.TopicSubmission, events.SubmissionEvent{
			SubmissionID: sub.ID(),
			Submittable:  sub.EntityID(),
			Operation:    events.OperationUpdate,
			Attribute:    events.AttributeStatus,
			Status:       status.String(),
			Timestamp:    time.Now(),
		})
		if status.IsFinished() {
			logging.Log.WithFields(logrus.Fields{
				"submission_id": sub.ID(),
				"status":        status.String(),
			}).Info("submission finished")
		}
	}
	o.publish(events.TopicSubmission, o.progress(sub))
}

func (o *Orchestrator) progress(sub *job.Submission) events.ProgressEvent {
	ev := events.ProgressEvent{SubmissionID: sub.ID(), Timestamp: time.Now()}
	for _, id := range sub.JobIDs() {
		status, ok := o.resolveStatus(id)
		if !ok {
			continue
		}
		ev.Total++
		switch status {
		case job.StatusBlocked:
			ev.Blocked++
		case job.StatusSubmitted, job.StatusPending:
			ev.Pending++
		case job.StatusRunning:
			ev.Running++
		case job.StatusCompleted:
			ev.Completed++
		case job.StatusSkipped:
			ev.Skipped++
		case job.StatusFailed:
			ev.Failed++
		case job.StatusCanceled:
			ev.Canceled++
		case job.StatusAbandoned:
			ev.Abandoned++
		}
	}
	return ev
}

func (o *Orchestrator) persistJob(ctx context.Context, j *job.Job, status job.Status) {
	if o.store == nil {
		return
	}
	err := retryPersist(ctx, o.retry.forStatus(status), func(ctx context.Context) error {
		return o.store.SaveJob(ctx, j.Record())
	})
	if err != nil {
		logging.Log.WithField("job_id", j.ID()).WithError(err).Error("failed to persist job")
	}
}

func (o *Orchestrator) persistSubmission(ctx context.Context, sub *job.Submission) {
	if o.store == nil {
		return
	}
	err := retryPersist(ctx, o.retry, func(ctx context.Context) error {
		return o.store.SaveSubmission(ctx, sub.Record())
	})
	if err != nil {
		logging.Log.WithField("submission_id", sub.ID()).WithError(err).Error("failed to persist submission")
	}
}

func (o *Orchestrator) publishJob(j *job.Job, operation string) {
	ev := events.JobEvent{
		JobID:        j.ID(),
		TaskID:       j.Task().ID(),
		SubmissionID: j.SubmitID(),
		Operation:    operation,
		Status:       j.Status().String(),
		Timestamp:    time.Now(),
	}
	if operation == events.OperationUpdate {
		ev.Attribute = events.AttributeStatus
		ev.Stacktrace = j.Stacktrace()
	}
	o.publish(events.TopicJob, ev)
}

func (o *Orchestrator) publish(topic string, ev events.Event) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(topic, ev)
}
