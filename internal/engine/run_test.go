package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedGenerator returns one step per call, repeating the last step when exhausted.
type scriptedGenerator struct {
	mu       sync.Mutex
	steps    []genStep
	contexts []string
}

type genStep struct {
	code  string
	err   error
	block bool // wait for ctx before returning
}

func (g *scriptedGenerator) Generate(ctx context.Context, promptContext string) (Candidate, error) {
	g.mu.Lock()
	g.contexts = append(g.contexts, promptContext)
	i := len(g.contexts) - 1
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	step := g.steps[i]
	g.mu.Unlock()
	if step.block {
		<-ctx.Done()
		return Candidate{}, ctx.Err()
	}
	return Candidate{Code: step.code}, step.err
}

func (g *scriptedGenerator) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.contexts...)
}

// MockSandbox maps code to outcomes through ExecuteFunc.
type MockSandbox struct {
	ExecuteFunc func(ctx context.Context, code string, timeout time.Duration) (Outcome, error)
}

func (m *MockSandbox) Execute(ctx context.Context, code string, timeout time.Duration) (Outcome, error) {
	return m.ExecuteFunc(ctx, code, timeout)
}

func outcomesByCode(m map[string]Outcome) *MockSandbox {
	return &MockSandbox{ExecuteFunc: func(_ context.Context, code string, _ time.Duration) (Outcome, error) {
		o, ok := m[code]
		if !ok {
			return Failure("unknown program", 0), nil
		}
		return o, nil
	}}
}

func mustInvariants(t *testing.T, st *RunState) {
	t.Helper()
	if err := st.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
}

func TestRun_FirstAttemptSucceeds(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "print(42)"}}}
	sbx := outcomesByCode(map[string]Outcome{"print(42)": Success("42\n")})

	st, err := Run(context.Background(), "print the answer", OptionsFromSeconds(3, 10), gen, sbx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", st.Status, StatusSucceeded)
	}
	if len(st.Attempts) != 1 {
		t.Fatalf("len(Attempts) = %d, want 1", len(st.Attempts))
	}
	if got := st.Attempts[0].Outcome.Output; got != "42\n" {
		t.Errorf("Output = %q, want %q", got, "42\n")
	}
	if st.Attempts[0].PromptContext != "print the answer" {
		t.Errorf("first prompt context = %q, want bare prompt", st.Attempts[0].PromptContext)
	}
	mustInvariants(t, st)
}

func TestRun_RecoversAfterFailure(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "bad"}, {code: "good"}}}
	sbx := outcomesByCode(map[string]Outcome{
		"bad":  Failure("NameError: name 'x' is not defined", 3),
		"good": Success("ok"),
	})

	st, err := Run(context.Background(), "do it", OptionsFromSeconds(3, 10), gen, sbx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Status != StatusSucceeded || len(st.Attempts) != 2 {
		t.Fatalf("got status=%s attempts=%d, want succeeded after 2", st.Status, len(st.Attempts))
	}
	ctx2 := st.Attempts[1].PromptContext
	if !strings.Contains(ctx2, "NameError: name 'x' is not defined") {
		t.Errorf("second prompt context missing previous error:\n%s", ctx2)
	}
	if !strings.Contains(ctx2, "line 3") {
		t.Errorf("second prompt context missing error location:\n%s", ctx2)
	}
	if got := gen.seen(); len(got) != 2 || got[1] != ctx2 {
		t.Errorf("generator saw %q, want second context to match attempt", got)
	}
	mustInvariants(t, st)
}

func TestRun_BudgetExhausted(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "loop"}}}
	sbx := outcomesByCode(map[string]Outcome{"loop": Timeout(time.Second)})

	st, err := Run(context.Background(), "spin", OptionsFromSeconds(3, 1), gen, sbx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, StatusFailed)
	}
	if len(st.Attempts) != 3 {
		t.Fatalf("len(Attempts) = %d, want 3", len(st.Attempts))
	}
	for _, a := range st.Attempts {
		if a.Outcome.Kind != OutcomeTimeout {
			t.Errorf("attempt %d kind = %s, want timeout", a.Index, a.Outcome.Kind)
		}
	}
	last := st.Attempts[2].PromptContext
	if strings.Count(last, "(timeout)") != 2 {
		t.Errorf("third context should list both prior timeouts:\n%s", last)
	}
	mustInvariants(t, st)
}

func TestRun_FactorialFixedAfterSyntaxError(t *testing.T) {
	broken := "def fact(n):\n    return 1 if n < 2 else n * fact(n - 1\nprint(fact(5))"
	fixed := "def fact(n):\n    return 1 if n < 2 else n * fact(n - 1)\nprint(fact(5))"
	gen := &scriptedGenerator{steps: []genStep{{code: broken}, {code: fixed}}}
	sbx := outcomesByCode(map[string]Outcome{
		broken: Failure("SyntaxError: '(' was never closed", 2),
		fixed:  Success("120\n"),
	})

	st, err := Run(context.Background(), "compute the factorial of 5", OptionsFromSeconds(5, 10), gen, sbx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Status != StatusSucceeded || len(st.Attempts) != 2 {
		t.Fatalf("got status=%s attempts=%d, want succeeded after 2", st.Status, len(st.Attempts))
	}
	if k := st.Attempts[0].Outcome.Kind; k != OutcomeFailure {
		t.Errorf("attempt 1 kind = %s, want failure", k)
	}
	if !strings.Contains(st.Attempts[1].PromptContext, "SyntaxError") {
		t.Errorf("attempt 2 context missing syntax error:\n%s", st.Attempts[1].PromptContext)
	}
	if out := st.Attempts[1].Outcome.Output; !strings.Contains(out, "120") {
		t.Errorf("Output = %q, want it to contain 120", out)
	}
	mustInvariants(t, st)
}

func TestRun_TimeoutThenSuccess(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "while True: pass"}, {code: "print(sum(range(10)))"}}}
	sbx := outcomesByCode(map[string]Outcome{
		"while True: pass":      Timeout(time.Second),
		"print(sum(range(10)))": Success("45\n"),
	})

	st, err := Run(context.Background(), "sum the first ten integers", OptionsFromSeconds(3, 1), gen, sbx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Status != StatusSucceeded || len(st.Attempts) != 2 {
		t.Fatalf("got status=%s attempts=%d, want succeeded after 2", st.Status, len(st.Attempts))
	}
	if k := st.Attempts[0].Outcome.Kind; k != OutcomeTimeout {
		t.Errorf("attempt 1 kind = %s, want timeout", k)
	}
	if !strings.Contains(st.Attempts[1].PromptContext, "Attempt 1 (timeout)") {
		t.Errorf("attempt 2 context missing timeout:\n%s", st.Attempts[1].PromptContext)
	}
	if st.Attempts[1].Outcome.Output != "45\n" {
		t.Errorf("Output = %q", st.Attempts[1].Outcome.Output)
	}
	mustInvariants(t, st)
}

func TestRun_CancelledHistoryIsPrefixOfFullRun(t *testing.T) {
	script := []genStep{{code: "a"}, {code: "b"}, {code: "c"}, {code: "d"}}
	outcomes := map[string]Outcome{
		"a": Failure("NameError: a", 1),
		"b": Timeout(time.Second),
		"c": Failure("TypeError: c", 2),
		"d": Failure("ValueError: d", 3),
	}

	full, err := Run(context.Background(), "x", OptionsFromSeconds(4, 1), &scriptedGenerator{steps: script}, outcomesByCode(outcomes), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if full.Status != StatusFailed || len(full.Attempts) != 4 {
		t.Fatalf("reference run: status=%s attempts=%d", full.Status, len(full.Attempts))
	}

	reached := make(chan struct{})
	sbx := &MockSandbox{ExecuteFunc: func(ctx context.Context, code string, _ time.Duration) (Outcome, error) {
		if code == "c" {
			close(reached)
			<-ctx.Done()
			return Outcome{}, ctx.Err()
		}
		return outcomes[code], nil
	}}
	h, err := StartRun(context.Background(), "x", OptionsFromSeconds(4, 1), Deps{
		Generator: &scriptedGenerator{steps: script},
		Sandbox:   sbx,
	})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	<-reached
	h.Cancel()
	cancelled, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if cancelled.Status != StatusCancelled {
		t.Errorf("Status = %s, want %s", cancelled.Status, StatusCancelled)
	}
	if len(cancelled.Attempts) >= len(full.Attempts) {
		t.Fatalf("cancelled run has %d attempts, want fewer than %d", len(cancelled.Attempts), len(full.Attempts))
	}
	for i, got := range cancelled.Attempts {
		want := full.Attempts[i]
		if got.Index != want.Index || got.Code != want.Code || got.PromptContext != want.PromptContext {
			t.Errorf("attempt %d = {%d %q}, want {%d %q}", i+1, got.Index, got.Code, want.Index, want.Code)
		}
		if got.Outcome.Kind != want.Outcome.Kind || got.Outcome.Summary() != want.Outcome.Summary() {
			t.Errorf("attempt %d outcome = %s %q, want %s %q", i+1,
				got.Outcome.Kind, got.Outcome.Summary(), want.Outcome.Kind, want.Outcome.Summary())
		}
	}
	mustInvariants(t, cancelled)
}

func TestRun_RecoverableGenerationErrorConsumesAttempt(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{
		{err: NewGenerationError("model returned no code", nil)},
		{code: "ok"},
	}}
	sbx := outcomesByCode(map[string]Outcome{"ok": Success("done")})

	st, err := Run(context.Background(), "x", OptionsFromSeconds(2, 5), gen, sbx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(st.Attempts) != 2 || st.Status != StatusSucceeded {
		t.Fatalf("got status=%s attempts=%d", st.Status, len(st.Attempts))
	}
	first := st.Attempts[0]
	if first.Outcome.Kind != OutcomeGenerationError {
		t.Errorf("first outcome = %s, want generation_error", first.Outcome.Kind)
	}
	if first.Code != "" {
		t.Errorf("first attempt code = %q, want empty", first.Code)
	}
	if !strings.Contains(st.Attempts[1].PromptContext, "model returned no code") {
		t.Errorf("generation error not fed back:\n%s", st.Attempts[1].PromptContext)
	}
	mustInvariants(t, st)
}

func TestRun_GeneratorUnavailableAborts(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{
		{code: "bad"},
		{err: NewGeneratorUnavailable("authentication failed", errors.New("401"))},
	}}
	sbx := outcomesByCode(map[string]Outcome{"bad": Failure("boom", 0)})

	st, err := Run(context.Background(), "x", OptionsFromSeconds(5, 5), gen, sbx, nil)
	if err == nil {
		t.Fatal("Run() error = nil, want infrastructure error")
	}
	if !IsInfrastructure(err) {
		t.Errorf("IsInfrastructure(%v) = false", err)
	}
	if st == nil {
		t.Fatal("partial state not returned")
	}
	if st.Status != StatusAborted {
		t.Errorf("Status = %s, want %s", st.Status, StatusAborted)
	}
	if len(st.Attempts) != 1 {
		t.Errorf("len(Attempts) = %d, want 1", len(st.Attempts))
	}
	if st.Error == "" {
		t.Error("Error not recorded on state")
	}
	mustInvariants(t, st)
}

func TestRun_SandboxErrorAborts(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "x"}}}
	sbx := &MockSandbox{ExecuteFunc: func(context.Context, string, time.Duration) (Outcome, error) {
		return Outcome{}, errors.New("docker daemon not reachable")
	}}

	st, err := Run(context.Background(), "x", OptionsFromSeconds(3, 5), gen, sbx, nil)
	var infra *InfrastructureError
	if !errors.As(err, &infra) {
		t.Fatalf("error = %v, want *InfrastructureError", err)
	}
	if infra.Op != "execute" || infra.Attempt != 1 {
		t.Errorf("got op=%s attempt=%d", infra.Op, infra.Attempt)
	}
	if st.Status != StatusAborted || len(st.Attempts) != 0 {
		t.Errorf("got status=%s attempts=%d", st.Status, len(st.Attempts))
	}
}

func TestRun_PassesTimeoutToSandbox(t *testing.T) {
	var got time.Duration
	gen := &scriptedGenerator{steps: []genStep{{code: "x"}}}
	sbx := &MockSandbox{ExecuteFunc: func(_ context.Context, _ string, timeout time.Duration) (Outcome, error) {
		got = timeout
		return Success(""), nil
	}}
	if _, err := Run(context.Background(), "x", OptionsFromSeconds(1, 7), gen, sbx, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != 7*time.Second {
		t.Errorf("timeout = %s, want 7s", got)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "x"}}}
	sbx := outcomesByCode(nil)

	tests := []struct {
		name   string
		prompt string
		opts   RunOptions
		gen    Generator
		sbx    Sandbox
	}{
		{name: "zero attempts", prompt: "p", opts: OptionsFromSeconds(0, 10), gen: gen, sbx: sbx},
		{name: "negative attempts", prompt: "p", opts: OptionsFromSeconds(-1, 10), gen: gen, sbx: sbx},
		{name: "zero timeout", prompt: "p", opts: OptionsFromSeconds(3, 0), gen: gen, sbx: sbx},
		{name: "empty prompt", prompt: "  ", opts: DefaultRunOptions(), gen: gen, sbx: sbx},
		{name: "no generator", prompt: "p", opts: DefaultRunOptions(), sbx: sbx},
		{name: "no sandbox", prompt: "p", opts: DefaultRunOptions(), gen: gen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Run(context.Background(), tt.prompt, tt.opts, tt.gen, tt.sbx, nil)
			if !IsConfigurationError(err) {
				t.Errorf("error = %v, want configuration error", err)
			}
			if st != nil {
				t.Errorf("state = %+v, want nil", st)
			}
		})
	}
	if n := len(gen.seen()); n != 0 {
		t.Errorf("generator called %d times before validation", n)
	}
}

func TestStartRun_CancelDuringGeneration(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "bad"}, {block: true}}}
	sbx := outcomesByCode(map[string]Outcome{"bad": Failure("err", 1)})
	events := make(chan Event, 32)

	h, err := StartRun(context.Background(), "x", OptionsFromSeconds(5, 5), Deps{
		Generator: gen,
		Sandbox:   sbx,
		Hooks:     Hooks{ChannelHook{Ch: events}},
	})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	// Wait until the second attempt is in flight.
	waitFor(t, func() bool {
		s := h.Snapshot()
		return s.InFlight != nil && s.InFlight.Index == 2
	})
	h.Cancel()

	st, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if st.Status != StatusCancelled {
		t.Errorf("Status = %s, want %s", st.Status, StatusCancelled)
	}
	if len(st.Attempts) != 1 || st.InFlight != nil {
		t.Errorf("got %d attempts, inflight=%v; want the completed prefix only", len(st.Attempts), st.InFlight)
	}
	mustInvariants(t, st)

	var last Event
	for len(events) > 0 {
		last = <-events
	}
	if last.Kind != EventRunFinished || last.Status != StatusCancelled {
		t.Errorf("last event = %+v, want run_finished/cancelled", last)
	}
}

func TestStartRun_CancelDuringExecutionDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	gen := &scriptedGenerator{steps: []genStep{{code: "slow"}}}
	started := make(chan struct{}, 1)
	sbx := &MockSandbox{ExecuteFunc: func(context.Context, string, time.Duration) (Outcome, error) {
		started <- struct{}{}
		<-release // ignores ctx on purpose
		return Success("late"), nil
	}}

	h, err := StartRun(context.Background(), "x", OptionsFromSeconds(2, 5), Deps{Generator: gen, Sandbox: sbx})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	<-started
	h.Cancel()
	<-h.Done()
	close(release)

	st, _ := h.Wait()
	if st.Status != StatusCancelled {
		t.Errorf("Status = %s, want %s", st.Status, StatusCancelled)
	}
	if len(st.Attempts) != 0 {
		t.Errorf("late result recorded: %+v", st.Attempts)
	}
}

func TestStartRun_ConfigurationErrorIsSynchronous(t *testing.T) {
	h, err := StartRun(context.Background(), "x", OptionsFromSeconds(0, 1), Deps{})
	if h != nil || !IsConfigurationError(err) {
		t.Errorf("StartRun() = %v, %v; want nil handle and configuration error", h, err)
	}
}

func TestRun_EventsInOrder(t *testing.T) {
	gen := &scriptedGenerator{steps: []genStep{{code: "a"}, {code: "b"}}}
	sbx := outcomesByCode(map[string]Outcome{"a": Failure("e", 0), "b": Success("")})
	events := make(chan Event, 32)

	if _, err := Run(context.Background(), "x", OptionsFromSeconds(3, 1), gen, sbx, Hooks{ChannelHook{Ch: events}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(events)

	var kinds []EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{
		EventRunStarted,
		EventAttemptStarted, EventCodeGenerated, EventAttemptFinished,
		EventAttemptStarted, EventCodeGenerated, EventAttemptFinished,
		EventRunFinished,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
