package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

// Plan is one run in a batch file.
type Plan struct {
	Name           string `yaml:"name"`
	Prompt         string `yaml:"prompt"`
	MaxAttempts    int    `yaml:"max_attempts"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Options resolves the plan's run options against the given defaults.
func (p Plan) Options(defaults engine.RunOptions) engine.RunOptions {
	opts := defaults
	if p.MaxAttempts != 0 {
		opts.MaxAttempts = p.MaxAttempts
	}
	if p.TimeoutSeconds != 0 {
		opts = engine.OptionsFromSeconds(opts.MaxAttempts, p.TimeoutSeconds)
	}
	return opts
}

// PlanFile is the top-level batch document.
type PlanFile struct {
	Defaults struct {
		MaxAttempts    int `yaml:"max_attempts"`
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"defaults"`
	Runs []Plan `yaml:"runs"`
}

// LoadPlan reads a batch file. Plans inherit the file's defaults and are
// named run-N when no name is given.
func LoadPlan(path string) ([]Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan parses a batch document.
func ParsePlan(data []byte) ([]Plan, error) {
	var file PlanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(file.Runs) == 0 {
		return nil, fmt.Errorf("plan contains no runs")
	}

	plans := make([]Plan, len(file.Runs))
	for i, p := range file.Runs {
		if strings.TrimSpace(p.Prompt) == "" {
			return nil, fmt.Errorf("run %d: prompt is required", i+1)
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("run-%d", i+1)
		}
		if p.MaxAttempts == 0 {
			p.MaxAttempts = file.Defaults.MaxAttempts
		}
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = file.Defaults.TimeoutSeconds
		}
		plans[i] = p
	}
	return plans, nil
}
