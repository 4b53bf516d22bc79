package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// ProcessBackend runs each task as a subprocess. The input values are written
// to stdin as a JSON array and the JSON value printed on stdout is the result.
type ProcessBackend struct {
	functions map[string]Command
	workDir   string
	env       []string
	procMgr   *ProcessManager
}

// NewProcessBackend creates a subprocess backend.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewProcessBackend(cfg Config, procMgr *ProcessManager) (*ProcessBackend, error) {
	if len(cfg.Functions) == 0 {
		return nil, fmt.Errorf("process backend: no functions configured")
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	return &ProcessBackend{
		functions: cfg.Functions,
		workDir:   workDir,
		env:       cfg.Env,
		procMgr:   procMgr,
	}, nil
}

// Execute runs the program registered for the task's function name.
// A non-zero exit or unparseable output is a *TaskError; failing to start
// the program is not.
func (b *ProcessBackend) Execute(ctx context.Context, task *scheduler.Task, inputs []any) (any, error) {
	def, ok := b.functions[task.FunctionName()]
	if !ok {
		return nil, &TaskError{TaskID: task.ID(), Err: fmt.Errorf("%w: %s", ErrNoFunction, task.FunctionName())}
	}

	payload, err := encodeInputs(inputs)
	if err != nil {
		return nil, &TaskError{TaskID: task.ID(), Err: err}
	}

	cmd := newCommand(ctx, def.Command, def.Args...)
	cmd.Dir = b.workDir
	cmd.Env = append(append(os.Environ(), b.env...), "TASKFLOW_TASK_ID="+task.ID())
	cmd.Stdin = bytes.NewReader(payload)

	stdout, stderr, err := executeCommand(ctx, cmd, b.procMgr)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &TaskError{TaskID: task.ID(), Err: err}
		}
		return nil, err
	}
	if len(stderr) > 0 {
		logging.Log.WithField("task_id", task.ID()).Debugf("stderr: %s", stderr)
	}

	result, err := decodeResult(stdout)
	if err != nil {
		return nil, &TaskError{TaskID: task.ID(), Err: err}
	}
	return result, nil
}

// Close is a no-op (subprocess-per-invocation model).
func (b *ProcessBackend) Close() error { return nil }

// Type returns "process".
func (b *ProcessBackend) Type() string { return TypeProcess }

func encodeInputs(inputs []any) ([]byte, error) {
	if inputs == nil {
		inputs = []any{}
	}
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inputs: %w", err)
	}
	return payload, nil
}

// decodeResult parses the JSON value printed by a task program. Empty output
// is a nil result.
func decodeResult(out []byte) (any, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return v, nil
}

// newCommand creates an exec.Cmd with process group isolation.
// The Setpgid: true flag ensures the subprocess is in its own process group,
// and context cancellation kills the whole group rather than just the leader.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Create new process group for signal propagation
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	return cmd
}

// executeCommand executes a command and returns its stdout, stderr, and any error.
// This function implements the concurrent pipe reading pattern to prevent deadlocks:
// 1. Create stdout and stderr pipes
// 2. Start the command (and track it if a ProcessManager is given)
// 3. Read both pipes concurrently in separate goroutines
// 4. Wait for both readers to complete (wg.Wait)
// 5. Wait for the command to finish (cmd.Wait)
func executeCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()

	// Pipes must be drained before cmd.Wait()
	wg.Wait()
	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout, stderr, fmt.Errorf("command interrupted: %w (%v)", waitErr, ctxErr)
		}
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, string(stderr))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}

	return stdout, stderr, nil
}

// killProcessGroup kills the entire process group associated with the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	// Negative PID targets the whole group
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}

	return nil
}

// ProcessManager tracks all running subprocesses and can terminate them all on shutdown.
//
// Usage pattern (typically in main):
//
//	pm := NewProcessManager()
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//	go func() {
//	  <-ctx.Done()
//	  pm.KillAll()
//	}()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess for tracking.
// Should be called after cmd.Start() when cmd.Process is available.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess from tracking.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked subprocesses.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
