// Package sandbox executes candidate programs in isolation and maps their
// results onto engine outcomes.
package sandbox

import (
	"context"
	"time"
)

// Result captures output of one program execution.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
	Line     int // error line reported by in-process interpreters, 0 when unknown
}

// Runner executes a single program with a timeout.
// Implementations should provide isolation from the host system to prevent
// malicious programs from affecting the host.
type Runner interface {
	// Run writes code to a fresh location, executes it and returns its output.
	// A timeout is reported through Result.TimedOut, not as an error.
	// An error means the runner itself could not do its job.
	Run(ctx context.Context, code string, timeout time.Duration) (Result, error)
	// Language names the programming language the runner executes.
	Language() string
}

const (
	LanguagePython   = "python"
	LanguageStarlark = "starlark"
)

// maxOutputBytes bounds the captured stdout and stderr.
const maxOutputBytes = 64 * 1024

func limitOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
