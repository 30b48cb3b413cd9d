// engine/hooks.go
package engine

import "context"

// Hook observes a run. Hooks are called synchronously on the run goroutine
// and must not mutate the state they receive.
type Hook interface {
	OnRunStart(ctx context.Context, st *RunState)
	OnAttemptStart(ctx context.Context, st *RunState, a *Attempt)
	OnCodeGenerated(ctx context.Context, st *RunState, a *Attempt)
	OnAttemptDone(ctx context.Context, st *RunState, a *Attempt)
	OnRunDone(ctx context.Context, st *RunState)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnRunStart(context.Context, *RunState)               {}
func (NopHook) OnAttemptStart(context.Context, *RunState, *Attempt)  {}
func (NopHook) OnCodeGenerated(context.Context, *RunState, *Attempt) {}
func (NopHook) OnAttemptDone(context.Context, *RunState, *Attempt)   {}
func (NopHook) OnRunDone(context.Context, *RunState)                 {}
