package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const starlarkFile = "main.star"

var starlarkFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// StarlarkRunner executes Starlark programs in-process. The interpreter has no
// access to files, network or environment, so no container is needed.
type StarlarkRunner struct {
	maxSteps uint64
}

// NewStarlarkRunner creates a Starlark runner bounded by config.MaxSteps.
func NewStarlarkRunner(config Config) *StarlarkRunner {
	return &StarlarkRunner{maxSteps: config.MaxSteps}
}

// Language implements Runner.
func (r *StarlarkRunner) Language() string { return LanguageStarlark }

// Run implements Runner.
func (r *StarlarkRunner) Run(ctx context.Context, code string, timeout time.Duration) (Result, error) {
	var stdout strings.Builder
	thread := &starlark.Thread{
		Name: "rexec",
		Print: func(_ *starlark.Thread, msg string) {
			if stdout.Len() < maxOutputBytes {
				stdout.WriteString(msg)
				stdout.WriteByte('\n')
			}
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q) is not allowed", module)
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-cctx.Done():
			thread.Cancel(cctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"json": json.Module,
		"math": math.Module,
	}
	_, err := starlark.ExecFileOptions(starlarkFileOptions, thread, starlarkFile, code, predeclared)

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	res := Result{Stdout: limitOutput(stdout.String())}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		res.Code = -1
		res.TimedOut = true
		return res, nil
	}
	if err != nil {
		res.Code = 1
		res.Stderr, res.Line = starlarkError(err)
	}
	return res, nil
}

// starlarkError renders an interpreter error as a message and source line.
func starlarkError(err error) (string, int) {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		line := 0
		for i := 0; i < len(evalErr.CallStack); i++ {
			if fr := evalErr.CallStack.At(i); fr.Pos.Filename() == starlarkFile {
				line = int(fr.Pos.Line)
				break
			}
		}
		return evalErr.Backtrace(), line
	}
	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return "SyntaxError: " + synErr.Msg, int(synErr.Pos.Line)
	}
	return err.Error(), lineFromPosition(err.Error())
}
