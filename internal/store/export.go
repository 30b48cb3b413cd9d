package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

// LogEntry is one line of an exported execution log.
type LogEntry struct {
	Attempt   int    `json:"attempt"`
	Type      string `json:"type"` // "success" | "error" | "warning"
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ExecutionLog is the downloadable record of a run.
type ExecutionLog struct {
	RunID            string     `json:"runId"`
	Prompt           string     `json:"prompt"`
	Status           string     `json:"status"`
	Attempts         int        `json:"attempts"`
	MaxAttempts      int        `json:"maxAttempts"`
	GeneratedCode    string     `json:"generatedCode"`
	ExecutionResults []LogEntry `json:"executionResults"`
	Timestamp        string     `json:"timestamp"`
}

// NewExecutionLog converts a run into its exported form.
func NewExecutionLog(st *engine.RunState, now time.Time) ExecutionLog {
	log := ExecutionLog{
		RunID:            st.ID,
		Prompt:           st.Prompt,
		Status:           string(st.Status),
		Attempts:         len(st.Attempts),
		MaxAttempts:      st.MaxAttempts,
		GeneratedCode:    st.FinalCode(),
		ExecutionResults: make([]LogEntry, 0, len(st.Attempts)+1),
		Timestamp:        now.UTC().Format(time.RFC3339),
	}
	for _, a := range st.Attempts {
		if a.Outcome == nil {
			continue
		}
		entry := LogEntry{
			Attempt:   a.Index,
			Type:      entryType(a.Outcome.Kind),
			Message:   a.Outcome.Summary(),
			Code:      a.Code,
			Timestamp: a.StartedAt.Add(a.Elapsed).UTC().Format(time.RFC3339),
		}
		log.ExecutionResults = append(log.ExecutionResults, entry)
	}
	if st.Error != "" {
		log.ExecutionResults = append(log.ExecutionResults, LogEntry{
			Type:      "error",
			Message:   st.Error,
			Timestamp: st.FinishedAt.UTC().Format(time.RFC3339),
		})
	}
	return log
}

func entryType(k engine.OutcomeKind) string {
	switch k {
	case engine.OutcomeSuccess:
		return "success"
	case engine.OutcomeTimeout:
		return "warning"
	default:
		return "error"
	}
}

// ExportJSON writes the run's execution log as indented JSON.
func ExportJSON(w io.Writer, st *engine.RunState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewExecutionLog(st, time.Now())); err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}
	return nil
}

// ExportFile writes the execution log to path.
func ExportFile(path string, st *engine.RunState) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := ExportJSON(f, st); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCode saves the final generated program to path.
func WriteCode(path string, st *engine.RunState) error {
	code := st.FinalCode()
	if code == "" {
		return fmt.Errorf("run %s has no generated code", st.ID)
	}
	if err := os.WriteFile(path, []byte(code+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write code file: %w", err)
	}
	return nil
}
