// engine/hook_logger.go
package engine

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

type LoggerHook struct{ L *slog.Logger }

func (h LoggerHook) OnRunStart(ctx context.Context, st *RunState) {
	h.L.InfoContext(ctx, "run started",
		"run", st.ID, "max_attempts", st.MaxAttempts, "timeout", st.Timeout)
}
func (h LoggerHook) OnAttemptStart(ctx context.Context, st *RunState, a *Attempt) {
	h.L.InfoContext(ctx, "attempt started",
		"run", st.ID, "attempt", a.Index, "of", st.MaxAttempts, "context_bytes", len(a.PromptContext))
}
func (h LoggerHook) OnCodeGenerated(ctx context.Context, st *RunState, a *Attempt) {
	h.L.DebugContext(ctx, "code generated",
		"run", st.ID, "attempt", a.Index, "code", preview(a.Code, 200))
}
func (h LoggerHook) OnAttemptDone(ctx context.Context, st *RunState, a *Attempt) {
	if a.Outcome == nil {
		return
	}
	attrs := []any{"run", st.ID, "attempt", a.Index, "outcome", a.Outcome.Kind, "elapsed", a.Elapsed}
	if a.Outcome.Succeeded() {
		h.L.InfoContext(ctx, "attempt succeeded", append(attrs, "output", preview(a.Outcome.Output, 100))...)
		return
	}
	h.L.WarnContext(ctx, "attempt failed", append(attrs, "error", preview(a.Outcome.Summary(), 200))...)
}
func (h LoggerHook) OnRunDone(ctx context.Context, st *RunState) {
	level := slog.LevelInfo
	if st.Status != StatusSucceeded {
		level = slog.LevelWarn
	}
	h.L.Log(ctx, level, "run finished",
		"run", st.ID, "status", st.Status, "attempts", len(st.Attempts), "elapsed", st.Elapsed())
}

// preview cuts s to at most n bytes without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
