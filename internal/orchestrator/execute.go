package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/datanode"
	"github.com/aristath/taskflow/internal/job"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// processJob runs one PENDING job to its terminal status. Output locks are
// held from the skip decision until the edit flags are cleared, and both are
// released before the terminal transition so released jobs see fresh outputs.
func (o *Orchestrator) processJob(ctx context.Context, j *job.Job) {
	task := j.Task()
	log := logging.Log.WithFields(logrus.Fields{
		"job_id":  j.ID(),
		"task_id": task.ID(),
	})

	outputs := task.Outputs()
	outputIDs := make([]string, 0, len(outputs))
	for _, dn := range outputs {
		outputIDs = append(outputIDs, dn.ID())
	}

	if err := o.locks.LockAll(ctx, outputIDs); err != nil {
		if ferr := j.Fail(fmt.Errorf("acquire output locks: %w", err)); ferr != nil {
			log.WithError(ferr).Debug("job left pending")
		}
		return
	}
	locked := true
	unlock := func() {
		if locked {
			o.locks.UnlockAll(outputIDs)
			locked = false
		}
	}
	defer unlock()

	// Canceled or abandoned while queued.
	if j.Status() != job.StatusPending {
		return
	}

	if !scheduler.NeedsRun(task, j.IsForced()) {
		unlock()
		if err := j.Skip(); err != nil {
			log.WithError(err).Debug("skip rejected")
			return
		}
		log.Info("job skipped: outputs up to date")
		return
	}

	setEditing(outputs, true)
	if err := j.Run(); err != nil {
		setEditing(outputs, false)
		log.WithError(err).Debug("run rejected")
		return
	}
	log.Info("job running")

	errs := o.runTask(ctx, task)

	setEditing(outputs, false)
	unlock()

	if len(errs) > 0 {
		if err := j.Fail(errs...); err != nil {
			log.WithError(err).Error("failed to mark job failed")
			return
		}
		log.WithField("errors", len(errs)).Warn("job failed")
		return
	}
	if err := j.Complete(); err != nil {
		log.WithError(err).Error("failed to mark job completed")
		return
	}
	log.Info("job completed")
}

// runTask reads the inputs, executes the body and writes the outputs,
// collecting every error. A read failure skips execution and a result of the
// wrong shape skips every write.
func (o *Orchestrator) runTask(ctx context.Context, task *scheduler.Task) []error {
	var errs []error

	inputs := make([]any, 0, len(task.Inputs()))
	for _, dn := range task.Inputs() {
		v, err := guard(dn.Read)
		if err != nil {
			errs = append(errs, &ReadError{DataNodeID: dn.ID(), Err: err})
			continue
		}
		inputs = append(inputs, v)
	}
	if len(errs) > 0 {
		return errs
	}

	cb := o.breakers.Get(o.backend.Type())
	result, err := executeWithBreaker(ctx, o.backend, cb, task, inputs)
	if err != nil {
		return []error{err}
	}

	outputs := task.Outputs()
	results, err := splitResults(result, len(outputs))
	if err != nil {
		return []error{fmt.Errorf("task %s: %w", task.ID(), err)}
	}

	for i, dn := range outputs {
		value := results[i]
		if _, err := guard(func() (any, error) { return nil, dn.Write(value) }); err != nil {
			errs = append(errs, &WriteError{DataNodeID: dn.ID(), Err: err})
		}
	}
	return errs
}

// splitResults maps a task result onto n outputs. One output takes the
// value as-is; several need a slice or array of exactly n elements.
func splitResults(result any, n int) ([]any, error) {
	switch n {
	case 0:
		return nil, nil
	case 1:
		return []any{result}, nil
	}
	if values, ok := result.([]any); ok {
		if len(values) != n {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongNumberOfResults, n, len(values))
		}
		return values, nil
	}
	rv := reflect.ValueOf(result)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: expected %d values, got %T", ErrWrongNumberOfResults, n, result)
	}
	if rv.Len() != n {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongNumberOfResults, n, rv.Len())
	}
	values := make([]any, n)
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values, nil
}

func setEditing(nodes []datanode.DataNode, editing bool) {
	for _, dn := range nodes {
		dn.SetEditInProgress(editing)
	}
}

// guard calls fn and turns a panic into an error carrying the stack.
func guard(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &backend.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
