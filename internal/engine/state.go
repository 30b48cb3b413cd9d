// Package engine runs the bounded generate-execute-retry loop.

package engine

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusAborted marks a run stopped by an infrastructure error.
	StatusAborted Status = "aborted"
)

// Terminal reports whether no further attempts can follow.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusAborted:
		return true
	}
	return false
}

// RunState is the history of one end-to-end request.
// It is owned by the orchestrator while running and handed to the caller read-only afterwards.
type RunState struct {
	ID          string        `json:"id"`
	Prompt      string        `json:"prompt"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout"`
	Attempts    []Attempt     `json:"attempts"`
	InFlight    *Attempt      `json:"in_flight,omitempty"` // attempt being generated or executed
	Status      Status        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Error       string        `json:"error,omitempty"` // set when Status is aborted
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	c := *s
	c.Attempts = make([]Attempt, len(s.Attempts))
	for i, a := range s.Attempts {
		c.Attempts[i] = cloneAttempt(a)
	}
	if s.InFlight != nil {
		a := cloneAttempt(*s.InFlight)
		c.InFlight = &a
	}
	return &c
}

func cloneAttempt(a Attempt) Attempt {
	if a.Outcome != nil {
		o := *a.Outcome
		if o.Error != nil {
			e := *o.Error
			o.Error = &e
		}
		a.Outcome = &o
	}
	return a
}

// LastAttempt returns the most recent finished attempt, or nil.
func (s *RunState) LastAttempt() *Attempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// FinalCode returns the code of the last attempt that produced a candidate.
func (s *RunState) FinalCode() string {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		if s.Attempts[i].Code != "" {
			return s.Attempts[i].Code
		}
	}
	return ""
}

// Elapsed is the wall-clock duration of the run so far.
func (s *RunState) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// CheckInvariants verifies the attempt history is consistent with the status.
func (s *RunState) CheckInvariants() error {
	if len(s.Attempts) > s.MaxAttempts {
		return fmt.Errorf("run %s: %d attempts exceed budget %d", s.ID, len(s.Attempts), s.MaxAttempts)
	}
	successes := 0
	for i, a := range s.Attempts {
		if a.Index != i+1 {
			return fmt.Errorf("run %s: attempt at position %d has index %d", s.ID, i+1, a.Index)
		}
		if a.Outcome == nil {
			return fmt.Errorf("run %s: attempt %d has no outcome", s.ID, a.Index)
		}
		if a.Outcome.Succeeded() {
			successes++
			if i != len(s.Attempts)-1 {
				return fmt.Errorf("run %s: success at attempt %d is not last", s.ID, a.Index)
			}
		}
	}
	switch s.Status {
	case StatusSucceeded:
		if successes != 1 {
			return fmt.Errorf("run %s: succeeded with %d successful attempts", s.ID, successes)
		}
	case StatusFailed:
		if successes != 0 {
			return fmt.Errorf("run %s: failed run contains a success", s.ID)
		}
		if len(s.Attempts) != s.MaxAttempts {
			return fmt.Errorf("run %s: failed after %d of %d attempts", s.ID, len(s.Attempts), s.MaxAttempts)
		}
	default:
		if successes != 0 {
			return fmt.Errorf("run %s: status %s with a successful attempt", s.ID, s.Status)
		}
	}
	return nil
}
