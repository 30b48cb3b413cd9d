package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

type MockGenerator struct {
	GenerateFunc func(ctx context.Context, promptContext string) (engine.Candidate, error)
}

func (m *MockGenerator) Generate(ctx context.Context, promptContext string) (engine.Candidate, error) {
	return m.GenerateFunc(ctx, promptContext)
}

type MockSandbox struct {
	ExecuteFunc func(ctx context.Context, code string, timeout time.Duration) (engine.Outcome, error)
}

func (m *MockSandbox) Execute(ctx context.Context, code string, timeout time.Duration) (engine.Outcome, error) {
	return m.ExecuteFunc(ctx, code, timeout)
}

type wireEvent struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt"`
	Kind      string `json:"kind"`
	Output    string `json:"output"`
}

func decodeEvents(t *testing.T, data []byte) []wireEvent {
	t.Helper()
	var out []wireEvent
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		var ev wireEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("invalid event line %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out
}

func succeedOnSecondAttempt() (*MockGenerator, *MockSandbox) {
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, promptContext string) (engine.Candidate, error) {
		if strings.Contains(promptContext, "NameError") {
			return engine.Candidate{Code: "print(42)"}, nil
		}
		return engine.Candidate{Code: "print(x)"}, nil
	}}
	sbx := &MockSandbox{ExecuteFunc: func(ctx context.Context, code string, timeout time.Duration) (engine.Outcome, error) {
		if code == "print(x)" {
			return engine.Failure("NameError: name 'x' is not defined", 1), nil
		}
		return engine.Success("42\n"), nil
	}}
	return gen, sbx
}

func TestStdIOServer_RunToCompletion(t *testing.T) {
	gen, sbx := succeedOnSecondAttempt()
	var recorded []*engine.RunState
	var mu sync.Mutex

	in := strings.NewReader(`{"type":"start_run","prompt":"print the answer","request_id":"req-1","max_attempts":3}` + "\n")
	var out bytes.Buffer
	srv := newStdIOServer(in, &out, serverDeps{
		Generator: gen,
		Sandbox:   sbx,
		Defaults:  engine.DefaultRunOptions(),
		Record: func(ctx context.Context, st *engine.RunState) {
			mu.Lock()
			recorded = append(recorded, st)
			mu.Unlock()
		},
		Language: "python",
	})

	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeEvents(t, out.Bytes())
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{
		"ready", "run_started",
		"attempt_started", "code_generated", "attempt_finished",
		"attempt_started", "code_generated", "attempt_finished",
		"run_finished",
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event sequence = %v, want %v", types, want)
	}

	last := events[len(events)-1]
	if last.Status != "succeeded" || last.Output != "42\n" || last.RequestID != "req-1" {
		t.Errorf("unexpected run_finished: %+v", last)
	}
	if events[1].RunID == "" || events[1].RunID != last.RunID {
		t.Errorf("run ids differ: started %q finished %q", events[1].RunID, last.RunID)
	}
	if len(recorded) != 1 || recorded[0].Status != engine.StatusSucceeded {
		t.Errorf("expected one recorded succeeded run, got %v", recorded)
	}
}

func TestStdIOServer_ControlCommands(t *testing.T) {
	gen, sbx := succeedOnSecondAttempt()
	input := strings.Join([]string{
		`{"type":"ping","request_id":"p1"}`,
		`{"type":"start_run","prompt":""}`,
		`{"type":"get_run","run_id":"stored"}`,
		`{"type":"get_run","run_id":"missing"}`,
		`{"type":"cancel_run","run_id":"missing"}`,
		`not json`,
	}, "\n")

	var out bytes.Buffer
	srv := newStdIOServer(strings.NewReader(input), &out, serverDeps{
		Generator: gen,
		Sandbox:   sbx,
		Defaults:  engine.DefaultRunOptions(),
		Lookup: func(ctx context.Context, id string) (*engine.RunState, error) {
			if id == "stored" {
				return &engine.RunState{ID: "stored", Status: engine.StatusFailed}, nil
			}
			return nil, errors.New("not found")
		},
	})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := map[string]int{}
	kinds := map[string]int{}
	for _, ev := range decodeEvents(t, out.Bytes()) {
		counts[ev.Type]++
		if ev.Type == "error" {
			kinds[ev.Kind]++
		}
	}
	if counts["pong"] != 1 || counts["run_state"] != 1 {
		t.Errorf("unexpected event counts: %v", counts)
	}
	if kinds["invalid_command"] != 2 || kinds["not_found"] != 2 {
		t.Errorf("unexpected error kinds: %v", kinds)
	}
	if counts["run_started"] != 0 {
		t.Error("an invalid start_run must not start a run")
	}
}

func TestStdIOServer_CancelRun(t *testing.T) {
	gen := &MockGenerator{GenerateFunc: func(ctx context.Context, _ string) (engine.Candidate, error) {
		<-ctx.Done()
		return engine.Candidate{}, ctx.Err()
	}}
	sbx := &MockSandbox{ExecuteFunc: func(context.Context, string, time.Duration) (engine.Outcome, error) {
		return engine.Success(""), nil
	}}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv := newStdIOServer(inR, outW, serverDeps{Generator: gen, Sandbox: sbx, Defaults: engine.DefaultRunOptions()})

	done := make(chan error, 1)
	go func() {
		err := srv.Run(context.Background())
		outW.Close()
		done <- err
	}()

	go io.WriteString(inW, `{"type":"start_run","prompt":"loop forever"}`+"\n")

	scanner := bufio.NewScanner(outR)
	var finished wireEvent
	for scanner.Scan() {
		var ev wireEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid event: %v", err)
		}
		switch ev.Type {
		case "attempt_started":
			go func(id string) {
				io.WriteString(inW, `{"type":"cancel_run","run_id":"`+id+`"}`+"\n")
				inW.Close()
			}(ev.RunID)
		case "run_finished":
			finished = ev
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if finished.Status != "cancelled" {
		t.Errorf("run_finished status = %q, want cancelled", finished.Status)
	}
}
