// Error taxonomy for the attempt loop.

package engine

import (
	"errors"
	"fmt"
)

// ErrInfrastructure is matched by every error that aborts a run regardless of budget.
var ErrInfrastructure = errors.New("infrastructure failure")

// ConfigurationError reports invalid run parameters. The run never starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// GenerationError is returned by a Generator that could not produce a candidate.
// Infrastructure is decided by the adapter: true aborts the run, false consumes
// one attempt and the loop continues.
type GenerationError struct {
	Reason         string
	Infrastructure bool
	Err            error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInfrastructure) match unreachable generators.
func (e *GenerationError) Is(target error) bool {
	return target == ErrInfrastructure && e.Infrastructure
}

// NewGenerationError creates a recoverable generation error.
func NewGenerationError(reason string, err error) *GenerationError {
	return &GenerationError{Reason: reason, Err: err}
}

// NewGeneratorUnavailable creates a generation error that aborts the run.
func NewGeneratorUnavailable(reason string, err error) *GenerationError {
	return &GenerationError{Reason: reason, Infrastructure: true, Err: err}
}

// InfrastructureError wraps a collaborator failure with the operation it happened in.
type InfrastructureError struct {
	Op      string // "generate" or "execute"
	Attempt int
	Err     error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("[attempt=%d op=%s] %v", e.Attempt, e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

// IsConfigurationError reports whether err is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsInfrastructure reports whether err aborts a run.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}
