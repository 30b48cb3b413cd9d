// Package batch runs independent plans concurrently.
package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

const defaultConcurrency = 2

// RunFunc executes one run to completion.
type RunFunc func(ctx context.Context, prompt string, opts engine.RunOptions) (*engine.RunState, error)

// Result is the outcome of one plan. State may be non-nil even when Err is set.
type Result struct {
	Plan     config.Plan
	State    *engine.RunState
	Err      error
	Duration time.Duration
}

// Status returns the run status, or aborted when the run never produced a state.
func (r Result) Status() engine.Status {
	if r.State == nil {
		return engine.StatusAborted
	}
	return r.State.Status
}

// Run executes plans with at most concurrency runs in flight. Results are in
// plan order. A failing plan never stops the others; cancelling ctx does.
func Run(ctx context.Context, plans []config.Plan, defaults engine.RunOptions, concurrency int, run RunFunc) []Result {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	results := make([]Result, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, plan := range plans {
		results[i].Plan = plan
		if gctx.Err() != nil {
			results[i].Err = gctx.Err()
			continue
		}
		g.Go(func() (rerr error) {
			start := time.Now()
			defer func() {
				if rec := recover(); rec != nil {
					results[i].Err = fmt.Errorf("panic in plan %s: %v", plan.Name, rec)
				}
				results[i].Duration = time.Since(start)
			}()

			st, err := run(gctx, plan.Prompt, plan.Options(defaults))
			results[i].State = st
			if err != nil {
				results[i].Err = fmt.Errorf("plan %s: %w", plan.Name, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Summary counts results by status.
func Summary(results []Result) map[engine.Status]int {
	counts := make(map[engine.Status]int)
	for _, r := range results {
		counts[r.Status()]++
	}
	return counts
}
