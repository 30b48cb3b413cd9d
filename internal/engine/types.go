package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OutcomeKind classifies how an attempt ended.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeFailure         OutcomeKind = "failure"
	OutcomeTimeout         OutcomeKind = "timeout"
	OutcomeGenerationError OutcomeKind = "generation_error"
)

// ExecError describes why a candidate did not run to completion.
type ExecError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"` // 1-based source line, 0 when unknown
}

func (e ExecError) String() string {
	if e.Line > 0 && !strings.Contains(e.Message, fmt.Sprintf("line %d", e.Line)) {
		return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
	}
	return e.Message
}

// Outcome is the terminal result of one attempt.
// Exactly one of Output, Error or Reason is meaningful, depending on Kind.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Output string      `json:"output,omitempty"` // captured stdout (success)
	Error  *ExecError  `json:"error,omitempty"`  // failure details
	Reason string      `json:"reason,omitempty"` // timeout / generation error description
}

// Success builds a successful execution outcome.
func Success(output string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Output: output}
}

// Failure builds a failed execution outcome.
func Failure(message string, line int) Outcome {
	return Outcome{Kind: OutcomeFailure, Error: &ExecError{Message: message, Line: line}}
}

// Timeout builds a timed-out execution outcome.
func Timeout(limit time.Duration) Outcome {
	return Outcome{Kind: OutcomeTimeout, Reason: fmt.Sprintf("execution exceeded the %s time limit", limit)}
}

// GenerationFailed builds an outcome for an attempt whose generation failed.
func GenerationFailed(reason string) Outcome {
	return Outcome{Kind: OutcomeGenerationError, Reason: reason}
}

// Succeeded reports whether the outcome is a Success.
func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// Summary renders the outcome as a single message suitable for feeding back
// into the next generation.
func (o Outcome) Summary() string {
	switch o.Kind {
	case OutcomeSuccess:
		return o.Output
	case OutcomeFailure:
		if o.Error == nil {
			return "execution failed"
		}
		return o.Error.String()
	case OutcomeTimeout:
		if o.Reason == "" {
			return "execution timed out"
		}
		return o.Reason
	case OutcomeGenerationError:
		if o.Reason == "" {
			return "code generation failed"
		}
		return o.Reason
	default:
		return string(o.Kind)
	}
}

// Candidate is a generated program pending execution.
type Candidate struct {
	Code string
}

// Attempt is one generate-then-execute round within a run.
type Attempt struct {
	Index         int           `json:"index"` // 1-based
	PromptContext string        `json:"prompt_context"`
	Code          string        `json:"code,omitempty"`
	Outcome       *Outcome      `json:"outcome,omitempty"` // nil while in flight
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Finished reports whether the attempt has an outcome.
func (a *Attempt) Finished() bool { return a.Outcome != nil }

func (a *Attempt) finish(o Outcome, now time.Time) {
	if a.Outcome != nil {
		return
	}
	a.Outcome = &o
	a.Elapsed = now.Sub(a.StartedAt)
}

// Generator produces candidate programs from a prompt context.
// Implementations must not retry internally and must return *GenerationError
// on failure, with Infrastructure set when the backing capability is unreachable.
type Generator interface {
	Generate(ctx context.Context, promptContext string) (Candidate, error)
}

// Sandbox executes candidate programs in isolation under a timeout.
// The returned Outcome is one of Success, Failure or Timeout. A non-nil error
// means the sandbox itself is unavailable.
type Sandbox interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (Outcome, error)
}
