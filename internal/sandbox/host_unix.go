//go:build !windows
// +build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// hostWaitDelay bounds how long Wait keeps reading output once the program has exited or been killed.
const hostWaitDelay = 500 * time.Millisecond

// HostRunner runs programs directly on the host machine without isolation.
// It is only used when explicitly requested.
type HostRunner struct {
	config Config
}

// NewHostRunner creates a host runner using config.Python as interpreter.
func NewHostRunner(config Config) *HostRunner {
	if config.Python == "" {
		config.Python = "python3"
	}
	return &HostRunner{config: config}
}

// Language implements Runner.
func (r *HostRunner) Language() string { return LanguagePython }

// Run implements Runner. Each program gets its own temporary working directory.
func (r *HostRunner) Run(ctx context.Context, code string, timeout time.Duration) (Result, error) {
	dir, err := writeProgram(code)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, r.config.Python, "-I", filepath.Join(dir, programFile))
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir, "PYTHONDONTWRITEBYTECODE=1"}
	// Create a new process group so we can kill all child processes on cancel
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the entire process group (negative PID)
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// Descendants that left the group may still hold the output pipes.
	cmd.WaitDelay = hostWaitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %s: %w", r.config.Python, err)
	}
	waitErr := cmd.Wait()
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	res := Result{
		Stdout: limitOutput(stdoutBuf.String()),
		Stderr: limitOutput(stderrBuf.String()),
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		res.Code = -1
		res.TimedOut = true
		return res, nil
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Result{}, fmt.Errorf("failed to wait for %s: %w", r.config.Python, waitErr)
		}
		res.Code = exitErr.ExitCode()
	}
	return res, nil
}
