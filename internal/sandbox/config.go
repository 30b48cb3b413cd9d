package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs programs directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeStarlark runs Starlark programs in a hermetic in-process interpreter.
	ModeStarlark Mode = "starlark"
	// ModeAuto selects Docker if available, otherwise falls back to Starlark.
	// The host runner is never chosen implicitly.
	ModeAuto Mode = "auto"
)

// ParseMode converts a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDocker, ModeHost, ModeStarlark, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown sandbox mode %q (supported: docker, host, starlark, auto)", s)
	}
}

// Config holds configuration for sandbox execution.
type Config struct {
	Mode        Mode
	DockerImage string // Custom Docker image override
	CPU         string // CPU limit (e.g., "1", "0.5")
	Memory      string // Memory limit (e.g., "256m")
	PidsLimit   int64
	Python      string // interpreter for host mode
	Screen      bool   // reject dangerous programs before running them
	MaxSteps    uint64 // Starlark execution step budget, 0 for unlimited
}

// DefaultConfig returns the default configuration based on environment variables.
func DefaultConfig() Config {
	mode, err := ParseMode(os.Getenv("REXEC_SANDBOX_MODE"))
	if err != nil {
		slog.Warn("invalid REXEC_SANDBOX_MODE, defaulting to auto", "error", err)
		mode = ModeAuto
	}

	maxSteps := uint64(50_000_000)
	if s := os.Getenv("REXEC_MAX_STEPS"); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			maxSteps = v
		} else {
			slog.Warn("invalid REXEC_MAX_STEPS, using default", "value", s)
		}
	}

	return Config{
		Mode:        mode,
		DockerImage: os.Getenv("REXEC_DOCKER_IMAGE"),
		CPU:         getEnvOrDefault("REXEC_DOCKER_CPU", "1"),
		Memory:      getEnvOrDefault("REXEC_DOCKER_MEMORY", "256m"),
		PidsLimit:   64,
		Python:      getEnvOrDefault("REXEC_PYTHON", "python3"),
		Screen:      !strings.EqualFold(os.Getenv("REXEC_SCREEN"), "off"),
		MaxSteps:    maxSteps,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// memoryBytes parses a memory limit such as "512m" or "1g".
func memoryBytes(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 256 * units.MiB, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return n, nil
}

// nanoCPUs parses a fractional CPU count into Docker's NanoCPUs.
func nanoCPUs(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 1e9, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid cpu limit %q", s)
	}
	return int64(v * 1e9), nil
}

// NewDefaultRunner creates a runner based on the configuration and Docker availability.
//   - "docker": use Docker (fails if unavailable)
//   - "host": use host executor (no isolation)
//   - "starlark": in-process Starlark interpreter
//   - "auto": use Docker if available, fallback to starlark
func NewDefaultRunner(ctx context.Context, config Config, logger *slog.Logger) (Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch config.Mode {
	case ModeDocker:
		return NewDockerRunner(ctx, config)

	case ModeHost:
		logger.Warn("using host executor (no sandboxing); this is insecure and should only be used for development")
		return NewHostRunner(config), nil

	case ModeStarlark:
		return NewStarlarkRunner(config), nil

	case ModeAuto:
		dockerRunner, err := NewDockerRunner(ctx, config)
		if err == nil {
			return dockerRunner, nil
		}
		logger.Warn("docker not available, using the starlark interpreter; set --sandbox host to run python unisolated", "error", err)
		return NewStarlarkRunner(config), nil

	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", config.Mode)
	}
}

// NewRunner creates a specific runner implementation.
func NewRunner(ctx context.Context, mode Mode, config Config) (Runner, error) {
	switch mode {
	case ModeDocker:
		return NewDockerRunner(ctx, config)
	case ModeHost:
		return NewHostRunner(config), nil
	case ModeStarlark:
		return NewStarlarkRunner(config), nil
	default:
		return nil, fmt.Errorf("unknown runner mode: %s", mode)
	}
}
