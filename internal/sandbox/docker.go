package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
)

// DockerRunner runs programs in isolated, network-less Docker containers.
type DockerRunner struct {
	client   *client.Client
	config   Config
	image    string
	memory   int64
	nanoCPUs int64
}

// NewDockerRunner creates a new Docker-based runner and verifies the daemon is reachable.
func NewDockerRunner(ctx context.Context, config Config) (*DockerRunner, error) {
	memory, err := memoryBytes(config.Memory)
	if err != nil {
		return nil, err
	}
	cpus, err := nanoCPUs(config.CPU)
	if err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return &DockerRunner{
		client:   cli,
		config:   config,
		image:    GetDockerImage(config),
		memory:   memory,
		nanoCPUs: cpus,
	}, nil
}

// Language implements Runner.
func (r *DockerRunner) Language() string { return LanguagePython }

// Image returns the image programs run in.
func (r *DockerRunner) Image() string { return r.image }

// Close releases the Docker client.
func (r *DockerRunner) Close() error { return r.client.Close() }

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, code string, timeout time.Duration) (Result, error) {
	dir, err := writeProgram(code)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	if err := r.ensureImage(ctx, r.image); err != nil {
		return Result{}, fmt.Errorf("failed to ensure image %s: %w", r.image, err)
	}

	containerConfig := &container.Config{
		Image:           r.image,
		Cmd:             []string{"python", "-I", "/workspace/" + programFile},
		WorkingDir:      "/tmp",
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp", "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		NetworkDisabled: true,
	}

	pids := r.config.PidsLimit
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   dir,
				Target:   "/workspace",
				ReadOnly: true,
			},
		},
		Resources: container.Resources{
			Memory:    r.memory,
			NanoCPUs:  r.nanoCPUs,
			PidsLimit: &pids,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 256, Hard: 256},
			},
		},
		NetworkMode:    "none",
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m",
		},
	}

	createResp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := createResp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.client.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = r.client.ContainerKill(killCtx, containerID, "SIGKILL")
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		stdout, stderr, _ := r.logs(killCtx, containerID)
		return Result{Stdout: stdout, Stderr: stderr, Code: -1, TimedOut: true}, nil
	case err := <-errCh:
		if err != nil {
			if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return Result{Code: -1, TimedOut: true}, nil
			}
			return Result{}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return Result{}, fmt.Errorf("container wait error: %s", status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	stdout, stderr, err := r.logs(ctx, containerID)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Stdout: stdout,
		Stderr: stderr,
		Code:   int(exitCode),
	}, nil
}

// logs reads and demultiplexes the container's stdout and stderr.
func (r *DockerRunner) logs(ctx context.Context, containerID string) (string, string, error) {
	rc, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, io.LimitReader(rc, 4*maxOutputBytes)); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return limitOutput(stdout.String()), limitOutput(stderr.String()), nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
// Transient pull failures are retried with backoff.
func (r *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := r.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	pull := func(ctx context.Context) error {
		reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
		if err != nil {
			return err
		}
		defer reader.Close()

		// Drain the pull output (required for pull to complete)
		_, err = io.Copy(io.Discard, reader)
		return err
	}
	onRetry := func(attempt int, delay time.Duration, err error) {
		slog.Warn("image pull failed, retrying", "image", imageName, "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retryWithPolicy(ctx, DefaultPullPolicy, pull, isTransientPullError, onRetry); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

const programFile = "main.py"

// writeProgram stores code in a fresh temporary directory readable by the container user.
func writeProgram(code string) (string, error) {
	dir, err := os.MkdirTemp("", "rexec-*")
	if err != nil {
		return "", fmt.Errorf("failed to create program dir: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to chmod program dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, programFile), []byte(code), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write program: %w", err)
	}
	return dir, nil
}
