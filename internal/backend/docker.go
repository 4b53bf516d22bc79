package backend

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// DockerBackend runs each task in a fresh container. The input values are
// passed as a JSON array in TASKFLOW_INPUTS and the JSON value the container
// prints on stdout is the result.
type DockerBackend struct {
	cli       *client.Client
	image     string
	functions map[string]Command
	env       []string
}

// NewDockerBackend connects to the docker daemon from the environment.
func NewDockerBackend(cfg Config) (*DockerBackend, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker backend: image is required")
	}
	opts := []client.Opt{client.FromEnv}
	if cfg.DockerAPIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.DockerAPIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker backend: %w", err)
	}
	return &DockerBackend{
		cli:       cli,
		image:     cfg.Image,
		functions: cfg.Functions,
		env:       cfg.Env,
	}, nil
}

// Execute creates, starts and waits for a container running the task's
// program, then removes it. A non-zero exit status is a *TaskError; daemon
// errors are not.
func (b *DockerBackend) Execute(ctx context.Context, task *scheduler.Task, inputs []any) (any, error) {
	def, ok := b.functions[task.FunctionName()]
	if !ok {
		return nil, &TaskError{TaskID: task.ID(), Err: fmt.Errorf("%w: %s", ErrNoFunction, task.FunctionName())}
	}
	payload, err := encodeInputs(inputs)
	if err != nil {
		return nil, &TaskError{TaskID: task.ID(), Err: err}
	}

	log := logging.Log.WithField("task_id", task.ID())

	env := append([]string(nil), b.env...)
	env = append(env, "TASKFLOW_TASK_ID="+task.ID(), "TASKFLOW_INPUTS="+string(payload))
	resp, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image:  b.image,
		Cmd:    append([]string{def.Command}, def.Args...),
		Env:    env,
		Tty:    false,
		Labels: map[string]string{"taskflow.task": task.ID()},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID
	defer func() {
		// Removal must happen even when ctx is already done
		if err := b.cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.WithError(err).Warn("failed to remove container")
		}
	}()
	log.Debugf("container created: %s", shortID(containerID))

	if err := b.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := b.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("wait container: %w", err)
		}
	case st := <-statusCh:
		exitCode = st.StatusCode
	}

	logs, err := b.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}

	if exitCode != 0 {
		return nil, &TaskError{
			TaskID: task.ID(),
			Err:    fmt.Errorf("container exited with status %d: %s", exitCode, strings.TrimSpace(stderr.String())),
		}
	}

	result, err := decodeResult(stdout.Bytes())
	if err != nil {
		return nil, &TaskError{TaskID: task.ID(), Err: err}
	}
	return result, nil
}

// Close closes the docker client.
func (b *DockerBackend) Close() error { return b.cli.Close() }

// Type returns "docker".
func (b *DockerBackend) Type() string { return TypeDocker }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
