package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errAbandoned marks an in-flight attempt dropped because the run was cancelled.
var errAbandoned = errors.New("attempt abandoned")

// run owns one RunState for the duration of the loop.
// Every mutation happens under mu so snapshots taken from other goroutines are consistent.
type run struct {
	mu    sync.Mutex
	st    *RunState
	gen   Generator
	sbx   Sandbox
	hooks Hooks
	now   func() time.Time
}

func newRun(prompt string, opts RunOptions, gen Generator, sbx Sandbox, hooks Hooks) (*run, error) {
	if err := validate(prompt, opts); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, &ConfigurationError{Field: "generator", Reason: "is required"}
	}
	if sbx == nil {
		return nil, &ConfigurationError{Field: "sandbox", Reason: "is required"}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &run{
		st: &RunState{
			ID:          id,
			Prompt:      prompt,
			MaxAttempts: opts.MaxAttempts,
			Timeout:     opts.Timeout,
			Attempts:    []Attempt{},
			Status:      StatusIdle,
		},
		gen:   gen,
		sbx:   sbx,
		hooks: hooks,
		now:   time.Now,
	}, nil
}

// Run executes the attempt loop until success, budget exhaustion or cancellation.
//
// A run that exhausts its budget returns normally with StatusFailed. Only
// configuration errors (before any attempt) and infrastructure errors (which
// abort the run with StatusAborted) are returned as errors; in the latter case
// the partial RunState is returned alongside the error.
//
// Cancellation is observed through ctx. An attempt in flight when ctx is done is
// abandoned: its result is discarded and it does not appear in the history.
func Run(ctx context.Context, prompt string, opts RunOptions, gen Generator, sbx Sandbox, hooks Hooks) (*RunState, error) {
	r, err := newRun(prompt, opts, gen, sbx, hooks)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx)
}

func (r *run) update(fn func(st *RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.st)
}

func (r *run) snapshot() *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Clone()
}

func (r *run) execute(ctx context.Context) (*RunState, error) {
	r.update(func(st *RunState) {
		st.Status = StatusRunning
		st.StartedAt = r.now()
	})
	r.hooks.OnRunStart(ctx, r.st)

	var runErr error
	for len(r.st.Attempts) < r.st.MaxAttempts && ctx.Err() == nil {
		a := &Attempt{
			Index:         len(r.st.Attempts) + 1,
			PromptContext: BuildPromptContext(r.st.Prompt, r.st.Attempts),
			StartedAt:     r.now(),
		}
		r.update(func(st *RunState) { st.InFlight = a })
		r.hooks.OnAttemptStart(ctx, r.st, a)

		outcome, err := r.attempt(ctx, a)
		if errors.Is(err, errAbandoned) {
			r.update(func(st *RunState) { st.InFlight = nil })
			break
		}
		if err != nil {
			runErr = err
			r.update(func(st *RunState) {
				st.InFlight = nil
				st.Status = StatusAborted
				st.Error = err.Error()
			})
			break
		}

		r.update(func(st *RunState) {
			a.finish(outcome, r.now())
			st.Attempts = append(st.Attempts, *a)
			st.InFlight = nil
			if outcome.Succeeded() {
				st.Status = StatusSucceeded
			}
		})
		r.hooks.OnAttemptDone(ctx, r.st, r.st.LastAttempt())

		if outcome.Succeeded() {
			break
		}
	}

	r.update(func(st *RunState) {
		if st.Status == StatusRunning {
			if len(st.Attempts) >= st.MaxAttempts {
				st.Status = StatusFailed
			} else {
				st.Status = StatusCancelled
			}
		}
		st.FinishedAt = r.now()
	})
	r.hooks.OnRunDone(ctx, r.st)
	return r.snapshot(), runErr
}

// attempt generates one candidate and executes it. Generation and execution
// failures become outcomes; only infrastructure failures and cancellation are errors.
func (r *run) attempt(ctx context.Context, a *Attempt) (Outcome, error) {
	cand, err := await(ctx, func() (Candidate, error) {
		return r.gen.Generate(ctx, a.PromptContext)
	})
	if ctx.Err() != nil {
		return Outcome{}, errAbandoned
	}
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			if genErr.Infrastructure {
				return Outcome{}, &InfrastructureError{Op: "generate", Attempt: a.Index, Err: err}
			}
			return GenerationFailed(genErr.Error()), nil
		}
		return GenerationFailed(err.Error()), nil
	}

	r.update(func(*RunState) { a.Code = cand.Code })
	r.hooks.OnCodeGenerated(ctx, r.st, a)

	out, err := await(ctx, func() (Outcome, error) {
		return r.sbx.Execute(ctx, cand.Code, r.st.Timeout)
	})
	if ctx.Err() != nil {
		return Outcome{}, errAbandoned
	}
	if err != nil {
		return Outcome{}, &InfrastructureError{Op: "execute", Attempt: a.Index, Err: err}
	}
	switch out.Kind {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout:
		return out, nil
	default:
		return Outcome{}, &InfrastructureError{
			Op:      "execute",
			Attempt: a.Index,
			Err:     fmt.Errorf("sandbox returned unexpected outcome %q", out.Kind),
		}
	}
}

// await runs fn on its own goroutine so cancellation is observed even when
// the collaborator ignores ctx. A late result lands in the buffered channel and is dropped.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
