package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

func TestRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := &renderer{w: &buf}
	fail := engine.Failure("ZeroDivisionError: division by zero", 2)

	r.render(engine.Event{Kind: engine.EventAttemptStarted, Attempt: 1}, 3)
	r.render(engine.Event{Kind: engine.EventCodeGenerated, Attempt: 1, Code: "a = 1\nprint(a / 0)\n"}, 3)
	r.render(engine.Event{Kind: engine.EventAttemptFinished, Attempt: 1, Outcome: &fail}, 3)
	r.render(engine.Event{Kind: engine.EventRunFinished, RunID: "r1", Status: engine.StatusFailed, Elapsed: time.Second}, 3)

	out := buf.String()
	for _, want := range []string{
		"[attempt 1/3] generating code",
		"executing 2 lines",
		"[attempt 1/3] failure: ZeroDivisionError: division by zero (line 2)",
		"run r1 failed in 1s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "print(a / 0)") {
		t.Error("code should only be printed in verbose mode")
	}
}

func TestApplyReplSetting(t *testing.T) {
	opts := engine.DefaultRunOptions()
	if err := applyReplSetting(&opts, ":attempts 7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := applyReplSetting(&opts, ":timeout 30"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.MaxAttempts != 7 || opts.Timeout != 30*time.Second {
		t.Errorf("opts = %+v", opts)
	}
	if err := applyReplSetting(&opts, ":timeout -1"); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&engine.ConfigurationError{Field: "prompt", Reason: "must not be empty"}, 2},
		{&engine.InfrastructureError{Op: "execute", Attempt: 1}, 3},
		{&runFailedError{Status: engine.StatusCancelled}, 130},
		{&runFailedError{Status: engine.StatusFailed}, 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
