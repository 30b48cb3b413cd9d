package engine

import (
	"context"
	"time"
)

type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventAttemptStarted  EventKind = "attempt_started"
	EventCodeGenerated   EventKind = "code_generated"
	EventAttemptFinished EventKind = "attempt_finished"
	EventRunFinished     EventKind = "run_finished"
)

// Event is a progress notification for callers rendering a live log.
type Event struct {
	Kind    EventKind
	RunID   string
	Attempt int
	Code    string
	Outcome *Outcome
	Elapsed time.Duration
	Status  Status
}

// ChannelHook bridges engine → caller channel.
// Sends block unless ctx is done, so the consumer must keep draining.
type ChannelHook struct{ Ch chan<- Event }

func (h ChannelHook) send(ctx context.Context, ev Event) {
	select {
	case h.Ch <- ev:
	case <-ctx.Done():
	}
}

func (h ChannelHook) OnRunStart(ctx context.Context, st *RunState) {
	h.send(ctx, Event{Kind: EventRunStarted, RunID: st.ID, Status: st.Status})
}
func (h ChannelHook) OnAttemptStart(ctx context.Context, st *RunState, a *Attempt) {
	h.send(ctx, Event{Kind: EventAttemptStarted, RunID: st.ID, Attempt: a.Index})
}
func (h ChannelHook) OnCodeGenerated(ctx context.Context, st *RunState, a *Attempt) {
	h.send(ctx, Event{Kind: EventCodeGenerated, RunID: st.ID, Attempt: a.Index, Code: a.Code})
}
func (h ChannelHook) OnAttemptDone(ctx context.Context, st *RunState, a *Attempt) {
	var o *Outcome
	if a.Outcome != nil {
		c := *a.Outcome
		o = &c
	}
	h.send(ctx, Event{Kind: EventAttemptFinished, RunID: st.ID, Attempt: a.Index, Code: a.Code, Outcome: o, Elapsed: a.Elapsed})
}
func (h ChannelHook) OnRunDone(_ context.Context, st *RunState) {
	// The run context may already be cancelled; the final event must still be delivered.
	h.Ch <- Event{Kind: EventRunFinished, RunID: st.ID, Status: st.Status, Elapsed: st.Elapsed()}
}
