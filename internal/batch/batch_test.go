package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

func TestRun_PreservesOrderAndIsolatesFailures(t *testing.T) {
	plans := []config.Plan{
		{Name: "a", Prompt: "ok"},
		{Name: "b", Prompt: "broken"},
		{Name: "c", Prompt: "ok", MaxAttempts: 2},
	}

	var inFlight, peak int32
	run := func(ctx context.Context, prompt string, opts engine.RunOptions) (*engine.RunState, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		st := &engine.RunState{Prompt: prompt, MaxAttempts: opts.MaxAttempts}
		if prompt == "broken" {
			st.Status = engine.StatusAborted
			return st, errors.New("sandbox unavailable")
		}
		st.Status = engine.StatusSucceeded
		return st, nil
	}

	results := Run(context.Background(), plans, engine.DefaultRunOptions(), 2, run)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Plan.Name != plans[i].Name {
			t.Errorf("result %d is plan %s, want %s", i, r.Plan.Name, plans[i].Name)
		}
	}
	if results[1].Err == nil || results[1].Status() != engine.StatusAborted {
		t.Errorf("plan b: err=%v status=%s", results[1].Err, results[1].Status())
	}
	if results[2].Err != nil || results[2].State.MaxAttempts != 2 {
		t.Errorf("plan c: err=%v state=%+v", results[2].Err, results[2].State)
	}
	if peak > 2 {
		t.Errorf("concurrency limit exceeded: peak %d", peak)
	}

	counts := Summary(results)
	if counts[engine.StatusSucceeded] != 2 || counts[engine.StatusAborted] != 1 {
		t.Errorf("Summary = %v", counts)
	}
}

func TestRun_RecoversPanics(t *testing.T) {
	plans := []config.Plan{{Name: "boom", Prompt: "x"}}
	results := Run(context.Background(), plans, engine.DefaultRunOptions(), 1,
		func(context.Context, string, engine.RunOptions) (*engine.RunState, error) {
			panic("unexpected")
		})
	if results[0].Err == nil {
		t.Fatal("expected panic to be reported as an error")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := Run(ctx, []config.Plan{{Name: "a", Prompt: "x"}}, engine.DefaultRunOptions(), 1,
		func(context.Context, string, engine.RunOptions) (*engine.RunState, error) {
			called = true
			return nil, nil
		})
	if called {
		t.Error("run should not start after cancellation")
	}
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", results[0].Err)
	}
}
