package engine

import (
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultTimeout     = 10 * time.Second
)

// RunOptions are fixed at run start.
type RunOptions struct {
	MaxAttempts int
	Timeout     time.Duration // per-execution budget, enforced by the sandbox
	ID          string        // optional; generated when empty
}

// DefaultRunOptions returns the options used when the caller sets none.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
	}
}

// OptionsFromSeconds builds RunOptions from the integer form used by callers.
func OptionsFromSeconds(maxAttempts, timeoutSeconds int) RunOptions {
	return RunOptions{
		MaxAttempts: maxAttempts,
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
	}
}

func validate(prompt string, opts RunOptions) error {
	if strings.TrimSpace(prompt) == "" {
		return &ConfigurationError{Field: "prompt", Reason: "must not be empty"}
	}
	if opts.MaxAttempts <= 0 {
		return &ConfigurationError{Field: "max_attempts", Reason: "must be positive"}
	}
	if opts.Timeout <= 0 {
		return &ConfigurationError{Field: "timeout", Reason: "must be positive"}
	}
	return nil
}
