package engine

import "context"

type Hooks []Hook

func (hs Hooks) OnRunStart(ctx context.Context, st *RunState) {
	for _, h := range hs {
		h.OnRunStart(ctx, st)
	}
}
func (hs Hooks) OnAttemptStart(ctx context.Context, st *RunState, a *Attempt) {
	for _, h := range hs {
		h.OnAttemptStart(ctx, st, a)
	}
}
func (hs Hooks) OnCodeGenerated(ctx context.Context, st *RunState, a *Attempt) {
	for _, h := range hs {
		h.OnCodeGenerated(ctx, st, a)
	}
}
func (hs Hooks) OnAttemptDone(ctx context.Context, st *RunState, a *Attempt) {
	for _, h := range hs {
		h.OnAttemptDone(ctx, st, a)
	}
}
func (hs Hooks) OnRunDone(ctx context.Context, st *RunState) {
	for _, h := range hs {
		h.OnRunDone(ctx, st)
	}
}
