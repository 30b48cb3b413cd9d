package sandbox

import (
	"context"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

// Executor adapts a Runner to engine.Sandbox.
type Executor struct {
	runner Runner
	screen bool
}

// NewExecutor wraps runner. When screen is set, Python programs are checked
// by Screen before they run.
func NewExecutor(runner Runner, screen bool) *Executor {
	return &Executor{runner: runner, screen: screen}
}

// Language reports the language candidates must be written in.
func (e *Executor) Language() string { return e.runner.Language() }

// Execute implements engine.Sandbox.
func (e *Executor) Execute(ctx context.Context, code string, timeout time.Duration) (engine.Outcome, error) {
	if e.screen && e.runner.Language() == LanguagePython {
		if v := Screen(code); len(v) > 0 {
			return engine.Failure(ScreenMessage(v), 0), nil
		}
	}

	res, err := e.runner.Run(ctx, code, timeout)
	if err != nil {
		return engine.Outcome{}, err
	}
	return ToOutcome(res, timeout), nil
}

// ToOutcome maps a raw execution result onto an engine outcome.
func ToOutcome(res Result, timeout time.Duration) engine.Outcome {
	switch {
	case res.TimedOut:
		return engine.Timeout(timeout)
	case res.Code == 0:
		return engine.Success(res.Stdout)
	default:
		msg, line := ParseFailure(res.Stderr)
		if res.Line > 0 {
			line = res.Line
		}
		return engine.Failure(msg, line)
	}
}
