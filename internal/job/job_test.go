package job

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/scheduler"
)

var allStatuses = []Status{
	StatusSubmitted, StatusBlocked, StatusPending, StatusRunning,
	StatusCanceled, StatusFailed, StatusCompleted, StatusSkipped, StatusAbandoned,
}

func newTestJob(opts ...Option) *Job {
	return New(scheduler.NewTask("t1", nil, nil, nil), "SUB_1", "sc", opts...)
}

// driveTo moves a fresh job to status through the shortest legal path.
func driveTo(t *testing.T, j *Job, status Status) {
	t.Helper()
	paths := map[Status][]func() error{
		StatusSubmitted: nil,
		StatusBlocked:   {j.Block},
		StatusPending:   {j.Pend},
		StatusRunning:   {j.Pend, j.Run},
		StatusCanceled:  {j.Cancel},
		StatusFailed:    {j.Pend, j.Run, func() error { return j.Fail(errors.New("boom")) }},
		StatusCompleted: {j.Pend, j.Run, j.Complete},
		StatusSkipped:   {j.Pend, j.Skip},
		StatusAbandoned: {j.Abandon},
	}
	for _, step := range paths[status] {
		require.NoError(t, step())
	}
	require.Equal(t, status, j.Status())
}

func TestNew(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	j := newTestJob(Forced(), WithClock(func() time.Time { return now }))

	assert.Equal(t, StatusSubmitted, j.Status())
	assert.True(t, j.IsForced())
	assert.Equal(t, now, j.CreatedAt())
	assert.Equal(t, "SUB_1", j.SubmitID())
	assert.Equal(t, "sc", j.SubmitEntityID())
	assert.Contains(t, j.ID(), "JOB_t1_")
	assert.NotEqual(t, j.ID(), newTestJob().ID())

	select {
	case <-j.Done():
		t.Fatal("done channel closed for a fresh job")
	default:
	}
}

func TestTransitions_NeverReturnToSubmitted(t *testing.T) {
	for _, from := range allStatuses {
		assert.False(t, CanTransition(from, StatusSubmitted), "%s -> SUBMITTED must be rejected", from)
	}
}

func TestTransitions_TerminalIsSticky(t *testing.T) {
	for _, terminal := range allStatuses {
		if !terminal.IsTerminal() {
			continue
		}
		t.Run(terminal.String(), func(t *testing.T) {
			j := newTestJob()
			driveTo(t, j, terminal)
			for _, attempt := range []func() error{j.Block, j.Pend, j.Run, j.Complete, j.Skip, j.Cancel, j.Abandon, func() error { return j.Fail() }} {
				err := attempt()
				require.ErrorIs(t, err, ErrInvalidTransition)
				var terr *TransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, terminal, terr.From)
			}
			assert.Equal(t, terminal, j.Status())
		})
	}
}

func TestTransitions_RunningCannotBeCanceled(t *testing.T) {
	j := newTestJob()
	driveTo(t, j, StatusRunning)
	assert.ErrorIs(t, j.Cancel(), ErrInvalidTransition)
	assert.ErrorIs(t, j.Abandon(), ErrInvalidTransition)
	assert.Equal(t, StatusRunning, j.Status())
}

func TestTransitions_RunRequiresPending(t *testing.T) {
	j := newTestJob()
	assert.ErrorIs(t, j.Run(), ErrInvalidTransition)
	require.NoError(t, j.Block())
	assert.ErrorIs(t, j.Run(), ErrInvalidTransition)
	require.NoError(t, j.Pend())
	assert.NoError(t, j.Run())
}

func TestFail_CollectsEveryError(t *testing.T) {
	j := newTestJob()
	driveTo(t, j, StatusRunning)

	require.NoError(t, j.Fail(errors.New("read d1"), nil, errors.New("write d3")))
	assert.Equal(t, []string{"read d1", "write d3"}, j.Stacktrace())
}

type tracedError struct{}

func (tracedError) Error() string { return "panic: boom" }
func (tracedError) Trace() string { return "goroutine 1 [running]" }

func TestFail_IncludesTrace(t *testing.T) {
	j := newTestJob()
	driveTo(t, j, StatusRunning)
	require.NoError(t, j.Fail(tracedError{}))

	trace := j.Stacktrace()
	require.Len(t, trace, 1)
	assert.Contains(t, trace[0], "panic: boom")
	assert.Contains(t, trace[0], "goroutine 1 [running]")
}

func TestCallbacks_OrderedThenObserver(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(name string) Callback {
		return func(j *Job) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+j.Status().String())
		}
	}

	j := newTestJob(WithCallbacks(record("first")), WithObserver(record("observer")))
	j.Subscribe(record("second"))

	require.NoError(t, j.Pend())
	require.NoError(t, j.Skip())

	assert.Equal(t, []string{
		"first:PENDING", "second:PENDING", "observer:PENDING",
		"first:SKIPPED", "second:SKIPPED", "observer:SKIPPED",
	}, calls)
}

func TestCallbacks_ReentrantTransitionDeliveredAfterCurrent(t *testing.T) {
	var depth, maxDepth int
	var seen []string
	j := newTestJob(WithCallbacks(func(j *Job) {
		depth++
		maxDepth = max(maxDepth, depth)
		seen = append(seen, j.Status().String())
		if j.Status() == StatusPending {
			assert.NoError(t, j.Cancel())
		}
		depth--
	}))

	require.NoError(t, j.Pend())

	assert.Equal(t, 1, maxDepth, "callbacks must not nest")
	assert.Equal(t, []string{"PENDING", "CANCELED"}, seen)
	select {
	case <-j.Done():
	default:
		t.Fatal("done not closed once the cancel was delivered")
	}
}

func TestCallbacks_ConcurrentTransitionDeliveredInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	entered := make(chan struct{})
	release := make(chan struct{})
	j := newTestJob(WithCallbacks(func(j *Job) {
		mu.Lock()
		seen = append(seen, j.Status().String())
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	}))

	pendErr := make(chan error, 1)
	go func() { pendErr <- j.Pend() }()
	<-entered

	// Delivery of PENDING is still in progress; CANCELED waits behind it.
	require.NoError(t, j.Cancel())
	mu.Lock()
	assert.Equal(t, []string{"PENDING"}, seen)
	mu.Unlock()

	close(release)
	require.NoError(t, <-pendErr)
	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"PENDING", "CANCELED"}, seen)
}

func TestCallbacks_NotCalledOnRejectedTransition(t *testing.T) {
	called := 0
	j := newTestJob(WithCallbacks(func(*Job) { called++ }))
	assert.Error(t, j.Complete())
	assert.Equal(t, 0, called)
}

func TestDone_ClosedOnTerminal(t *testing.T) {
	j := newTestJob()
	driveTo(t, j, StatusPending)
	select {
	case <-j.Done():
		t.Fatal("done closed before terminal")
	default:
	}
	require.NoError(t, j.Cancel())
	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after cancel")
	}
	assert.True(t, j.IsFinished())
}

func TestConcurrentCancelAndRun_OneWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		j := newTestJob()
		require.NoError(t, j.Pend())

		var wg sync.WaitGroup
		var cancelErr, runErr error
		wg.Add(2)
		go func() { defer wg.Done(); cancelErr = j.Cancel() }()
		go func() { defer wg.Done(); runErr = j.Run() }()
		wg.Wait()

		if cancelErr == nil {
			assert.Error(t, runErr)
			assert.Equal(t, StatusCanceled, j.Status())
		} else {
			assert.NoError(t, runErr)
			assert.Equal(t, StatusRunning, j.Status())
		}
	}
}

func TestRecord(t *testing.T) {
	j := newTestJob(Forced())
	driveTo(t, j, StatusFailed)

	r := j.Record()
	assert.Equal(t, j.ID(), r.ID)
	assert.Equal(t, "t1", r.TaskID)
	assert.True(t, r.Force)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, []string{"boom"}, r.Stacktrace)
	assert.Equal(t, "SUB_1", r.SubmitID)
}

func TestStatus_TextRoundTrip(t *testing.T) {
	for _, s := range allStatuses {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s Status
	assert.Error(t, s.UnmarshalText([]byte("DONE")))
}
