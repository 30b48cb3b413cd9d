package config

import (
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

func TestParsePlan(t *testing.T) {
	doc := `
defaults:
  max_attempts: 4
  timeout_seconds: 15
runs:
  - name: fib
    prompt: print the first 10 fibonacci numbers
  - prompt: sum the numbers 1 to 100
    max_attempts: 2
`
	plans, err := ParsePlan([]byte(doc))
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	if plans[0].Name != "fib" || plans[0].MaxAttempts != 4 || plans[0].TimeoutSeconds != 15 {
		t.Errorf("plan 0 = %+v", plans[0])
	}
	if plans[1].Name != "run-2" || plans[1].MaxAttempts != 2 {
		t.Errorf("plan 1 = %+v", plans[1])
	}

	opts := plans[1].Options(engine.DefaultRunOptions())
	if opts.MaxAttempts != 2 || opts.Timeout != 15*time.Second {
		t.Errorf("Options() = %+v", opts)
	}
}

func TestParsePlan_Errors(t *testing.T) {
	tests := map[string]string{
		"no runs":      "runs: []",
		"empty prompt": "runs:\n  - name: x\n    prompt: \"  \"",
		"bad yaml":     "runs: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePlan([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
