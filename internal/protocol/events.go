package protocol

import (
	"encoding/json"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

// EventType enumerates server -> client events.
type EventType string

const (
	EventReady           EventType = "ready"
	EventRunStarted      EventType = "run_started"
	EventAttemptStarted  EventType = "attempt_started"
	EventCodeGenerated   EventType = "code_generated"
	EventAttemptFinished EventType = "attempt_finished"
	EventRunFinished     EventType = "run_finished"
	EventRunState        EventType = "run_state"
	EventConfigReloaded  EventType = "config_reloaded"
	EventError           EventType = "error"
	EventPong            EventType = "pong"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (eventBase) isEvent() {}

// GetType implements Event.
func (e eventBase) GetType() EventType { return e.Type }

// ReadyEvent is emitted once when the server starts reading commands.
type ReadyEvent struct {
	eventBase
	Language string `json:"language"`
	Provider string `json:"provider,omitempty"`
}

// NewReadyEvent constructs a ready event.
func NewReadyEvent(language, provider string) ReadyEvent {
	return ReadyEvent{
		eventBase: eventBase{Type: EventReady},
		Language:  language,
		Provider:  provider,
	}
}

// RunStartedEvent acknowledges a start_run command.
type RunStartedEvent struct {
	eventBase
	Prompt         string `json:"prompt"`
	MaxAttempts    int    `json:"max_attempts"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// NewRunStartedEvent constructs a run_started event.
func NewRunStartedEvent(runID, requestID, prompt string, maxAttempts, timeoutSeconds int) RunStartedEvent {
	return RunStartedEvent{
		eventBase:      eventBase{Type: EventRunStarted, RunID: runID, RequestID: requestID},
		Prompt:         prompt,
		MaxAttempts:    maxAttempts,
		TimeoutSeconds: timeoutSeconds,
	}
}

// AttemptEvent reports progress within one attempt.
type AttemptEvent struct {
	eventBase
	Attempt   int             `json:"attempt"`
	Code      string          `json:"code,omitempty"`
	Outcome   *engine.Outcome `json:"outcome,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
}

// RunFinishedEvent carries the terminal status of a run.
type RunFinishedEvent struct {
	eventBase
	Status    engine.Status `json:"status"`
	Attempts  int           `json:"attempts"`
	FinalCode string        `json:"final_code,omitempty"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

// NewRunFinishedEvent builds a run_finished event from the final run state.
func NewRunFinishedEvent(requestID string, st *engine.RunState) RunFinishedEvent {
	ev := RunFinishedEvent{
		eventBase: eventBase{Type: EventRunFinished, RunID: st.ID, RequestID: requestID},
		Status:    st.Status,
		Attempts:  len(st.Attempts),
		FinalCode: st.FinalCode(),
		Error:     st.Error,
		ElapsedMs: st.Elapsed().Milliseconds(),
	}
	if last := st.LastAttempt(); last != nil && last.Outcome != nil && last.Outcome.Succeeded() {
		ev.Output = last.Outcome.Output
	}
	return ev
}

// FromEngineEvent converts an engine progress event. run_finished is built from
// the final state with NewRunFinishedEvent instead, so ok is false for it.
func FromEngineEvent(requestID string, ev engine.Event) (Event, bool) {
	base := eventBase{RunID: ev.RunID, RequestID: requestID}
	switch ev.Kind {
	case engine.EventAttemptStarted:
		base.Type = EventAttemptStarted
		return AttemptEvent{eventBase: base, Attempt: ev.Attempt}, true
	case engine.EventCodeGenerated:
		base.Type = EventCodeGenerated
		return AttemptEvent{eventBase: base, Attempt: ev.Attempt, Code: ev.Code}, true
	case engine.EventAttemptFinished:
		base.Type = EventAttemptFinished
		return AttemptEvent{
			eventBase: base,
			Attempt:   ev.Attempt,
			Code:      ev.Code,
			Outcome:   ev.Outcome,
			ElapsedMs: ev.Elapsed.Milliseconds(),
		}, true
	default:
		return nil, false
	}
}

// RunStateEvent answers get_run with a full snapshot.
type RunStateEvent struct {
	eventBase
	Run    *engine.RunState `json:"run"`
	Active bool             `json:"active"`
}

// NewRunStateEvent constructs a run_state event.
func NewRunStateEvent(st *engine.RunState, active bool) RunStateEvent {
	return RunStateEvent{
		eventBase: eventBase{Type: EventRunState, RunID: st.ID},
		Run:       st,
		Active:    active,
	}
}

// ConfigReloadedEvent notifies clients that run defaults changed on disk.
type ConfigReloadedEvent struct {
	eventBase
	Provider       string `json:"provider,omitempty"`
	MaxAttempts    int    `json:"max_attempts"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// NewConfigReloadedEvent constructs a config_reloaded event.
func NewConfigReloadedEvent(provider string, maxAttempts, timeoutSeconds int) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		eventBase:      eventBase{Type: EventConfigReloaded},
		Provider:       provider,
		MaxAttempts:    maxAttempts,
		TimeoutSeconds: timeoutSeconds,
	}
}

// ErrorEvent reports a rejected command or a failed run.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(runID, message, kind, details string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, RunID: runID},
		Message:   message,
		Kind:      kind,
		Details:   details,
	}
}

// PongEvent answers ping.
type PongEvent struct {
	eventBase
	ActiveRuns int `json:"active_runs"`
}

// NewPongEvent constructs a pong event.
func NewPongEvent(requestID string, activeRuns int) PongEvent {
	return PongEvent{
		eventBase:  eventBase{Type: EventPong, RequestID: requestID},
		ActiveRuns: activeRuns,
	}
}
