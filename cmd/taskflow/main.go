// Command taskflow loads a scenario definition and runs its jobs.
//
//	taskflow run [-force] [-timeout 5m] [-sequence name] [-tui] scenario.hcl
//	taskflow functions
//	taskflow config
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/job"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scenario"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/tui"
)

// errUnsuccessful means the run finished but the submission did not complete.
var errUnsuccessful = errors.New("submission did not complete")

const usage = `usage:
  taskflow run [flags] <scenario.hcl>   submit a scenario and wait for its jobs
  taskflow functions                    list built-in task functions
  taskflow config                       print the effective configuration
`

// app carries what a command needs from the environment.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	globalPath  string
	projectPath string
	functions   *scheduler.Registry
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		projectPath: config.ProjectPath(),
		functions:   builtinFunctions(),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		a.globalPath = config.GlobalPath(homeDir)
	}

	if err := a.dispatch(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, errUnsuccessful) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "run":
		return a.run(ctx, args[1:])
	case "functions":
		for _, name := range a.functions.Names() {
			fmt.Fprintln(a.stdout, name)
		}
		return nil
	case "config":
		cfg, err := config.Load(a.globalPath, a.projectPath)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return nil
	default:
		fmt.Fprint(a.stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type runOptions struct {
	force    bool
	timeout  time.Duration
	sequence string
	useTUI   bool
	path     string
}

func parseRunFlags(args []string, stderr io.Writer) (runOptions, error) {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.force, "force", false, "run every task even if its outputs are up to date")
	fs.DurationVar(&opts.timeout, "timeout", 0, "give up waiting after this long (0 waits until interrupted)")
	fs.StringVar(&opts.sequence, "sequence", "", "submit only the named sequence of the scenario")
	fs.BoolVar(&opts.useTUI, "tui", false, "show the terminal dashboard")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() != 1 {
		return opts, errors.New("run needs exactly one scenario file")
	}
	opts.path = fs.Arg(0)
	return opts, nil
}

// runtime is everything built from the configuration for one run.
type runtime struct {
	cfg   *config.TaskflowConfig
	pm    *backend.ProcessManager
	be    backend.Backend
	store persistence.Store
	bus   *events.EventBus
	orch  *orchestrator.Orchestrator
}

func (a *app) build(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, pm: backend.NewProcessManager(), bus: events.NewEventBus()}
	rt.be, err = backend.New(backendConfig(cfg), rt.pm)
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}

	if cfg.Store.Type == "sqlite" && cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			rt.be.Close()
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	rt.store, err = persistence.Open(ctx, persistence.Config{
		Type:      cfg.Store.Type,
		Path:      cfg.Store.Path,
		Endpoints: cfg.Store.Endpoints,
		Prefix:    cfg.Store.Prefix,
	})
	if err != nil {
		rt.be.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rt.orch = orchestrator.New(orchestrator.Config{
		MaxWorkers: cfg.Workers(),
		Backend:    rt.be,
		Store:      rt.store,
		Publisher:  rt.bus,
		Breakers: orchestrator.NewCircuitBreakerRegistry(orchestrator.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeout),
		}),
		Retry: retryConfig(cfg.Retry),
	})
	return rt, nil
}

func (rt *runtime) close() {
	rt.bus.Close()
	if err := rt.store.Close(); err != nil {
		logging.Log.WithError(err).Warn("closing store")
	}
	if err := rt.be.Close(); err != nil {
		logging.Log.WithError(err).Warn("closing backend")
	}
}

func backendConfig(cfg *config.TaskflowConfig) backend.Config {
	functions := make(map[string]backend.Command, len(cfg.Functions))
	for name, fn := range cfg.Functions {
		functions[name] = backend.Command{Command: fn.Command, Args: fn.Args}
	}
	return backend.Config{
		Type:             cfg.Backend.Type,
		WorkDir:          cfg.Backend.WorkDir,
		Env:              cfg.Backend.Env,
		Functions:        functions,
		Image:            cfg.Backend.Image,
		DockerAPIVersion: cfg.Backend.DockerAPIVersion,
	}
}

// retryConfig fills the unset fields of c from the orchestrator defaults.
func retryConfig(c config.RetryConfig) orchestrator.RetryConfig {
	rc := orchestrator.DefaultRetryConfig()
	if c.InitialInterval > 0 {
		rc.InitialInterval = time.Duration(c.InitialInterval)
	}
	if c.MaxInterval > 0 {
		rc.MaxInterval = time.Duration(c.MaxInterval)
	}
	if c.MaxElapsedTime > 0 {
		rc.MaxElapsedTime = time.Duration(c.MaxElapsedTime)
	}
	if c.Multiplier > 0 {
		rc.Multiplier = c.Multiplier
	}
	return rc
}

func (a *app) run(ctx context.Context, args []string) error {
	opts, err := parseRunFlags(args, a.stderr)
	if err != nil {
		return err
	}

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	loader := &scenario.Loader{
		Functions:       a.functions,
		AllowUnresolved: rt.be.Type() != backend.TypeLocal,
	}
	sc, err := loader.Load(opts.path)
	if err != nil {
		return err
	}
	var target scheduler.Submittable = sc
	if opts.sequence != "" {
		seq, ok := sc.Sequence(opts.sequence)
		if !ok {
			return fmt.Errorf("scenario %s has no sequence %q", sc.SubmittableID(), opts.sequence)
		}
		target = seq
	}

	if err := rt.orch.Start(ctx); err != nil {
		return err
	}
	defer rt.orch.Stop()

	if opts.useTUI {
		return a.runWithTUI(ctx, rt, target, opts)
	}
	return a.runPlain(ctx, rt, target, opts)
}

func submitOptions(opts runOptions) []orchestrator.SubmitOption {
	so := []orchestrator.SubmitOption{orchestrator.Wait(opts.timeout)}
	if opts.force {
		so = append(so, orchestrator.Force())
	}
	return so
}

func (a *app) runPlain(ctx context.Context, rt *runtime, target scheduler.Submittable, opts runOptions) error {
	sub := rt.bus.Subscribe(events.TopicJob, 1024)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sub {
			if je, ok := ev.(events.JobEvent); ok && je.Operation == events.OperationUpdate {
				fmt.Fprintf(a.stdout, "%s  %-20s %s\n", je.Timestamp.Format("15:04:05"), je.TaskID, je.Status)
			}
		}
	}()

	jobs, err := rt.orch.Submit(ctx, target, submitOptions(opts)...)
	if ctx.Err() != nil {
		a.interrupt(rt)
	}
	rt.bus.Unsubscribe(sub)
	<-printed

	if jobs == nil && err != nil {
		return err
	}
	return a.report(jobs, err)
}

func (a *app) runWithTUI(ctx context.Context, rt *runtime, target scheduler.Submittable, opts runOptions) error {
	model := tui.New(rt.bus, rt.orch, rt.cfg, a.globalPath, a.projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	type submitResult struct {
		jobs []*job.Job
		err  error
	}
	submitCtx, cancelSubmit := context.WithCancel(ctx)
	defer cancelSubmit()
	resultChan := make(chan submitResult, 1)
	go func() {
		jobs, err := rt.orch.Submit(submitCtx, target, submitOptions(opts)...)
		resultChan <- submitResult{jobs, err}
	}()

	// The dashboard stays up after the jobs finish until the user quits.
	var result submitResult
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logging.Log.WithError(err).Error("TUI exited with error")
		}
		rt.orch.Stop()
		cancelSubmit()
		result = <-resultChan
	case <-ctx.Done():
		a.interrupt(rt)
		p.Quit()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case <-errChan:
		case <-shutdownCtx.Done():
			logging.Log.Warn("shutdown timeout exceeded, forcing exit")
		}
		result = <-resultChan
	}

	if result.jobs == nil && result.err != nil {
		return result.err
	}
	return a.report(result.jobs, result.err)
}

// interrupt kills tracked subprocesses so in-flight jobs end promptly.
func (a *app) interrupt(rt *runtime) {
	logging.Log.Info("shutdown signal received, cleaning up")
	if err := rt.pm.KillAll(); err != nil {
		logging.Log.WithError(err).Warn("killing subprocesses")
	}
}

// report prints one line per job and the rollup, and returns errUnsuccessful
// unless every job completed or was skipped.
func (a *app) report(jobs []*job.Job, waitErr error) error {
	statuses := make([]job.Status, 0, len(jobs))
	fmt.Fprintln(a.stdout)
	for _, j := range jobs {
		st := j.Status()
		statuses = append(statuses, st)
		fmt.Fprintf(a.stdout, "%-20s %-10s %s\n", j.Task().ID(), st, j.ID())
		for _, line := range j.Stacktrace() {
			fmt.Fprintf(a.stdout, "    %s\n", firstLine(line))
		}
	}
	rollup := job.Rollup(statuses)
	if len(jobs) > 0 {
		fmt.Fprintf(a.stdout, "\nsubmission %s: %s\n", jobs[0].SubmitID(), rollup)
	}

	if waitErr != nil {
		logging.Log.WithError(waitErr).Warn("stopped waiting for jobs")
		return fmt.Errorf("%w: %v", errUnsuccessful, waitErr)
	}
	if len(jobs) > 0 && rollup != job.SubmissionCompleted {
		logging.Log.WithFields(logrus.Fields{
			"submission_id": jobs[0].SubmitID(),
			"status":        rollup.String(),
		}).Warn("submission finished unsuccessfully")
		return errUnsuccessful
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
