package engine

import "context"

// Deps are the collaborators a run is wired to.
type Deps struct {
	Generator Generator
	Sandbox   Sandbox
	Hooks     Hooks
}

// RunHandle is the caller's view of a run executing in the background.
type RunHandle struct {
	r      *run
	cancel context.CancelFunc
	done   chan struct{}
	final  *RunState
	err    error
}

// StartRun validates the options and starts the loop on its own goroutine.
// Configuration errors are returned immediately and no run is started.
func StartRun(ctx context.Context, prompt string, opts RunOptions, deps Deps) (*RunHandle, error) {
	r, err := newRun(prompt, opts, deps.Generator, deps.Sandbox, deps.Hooks)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &RunHandle{r: r, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.final, h.err = r.execute(runCtx)
	}()
	return h, nil
}

// ID returns the run identifier.
func (h *RunHandle) ID() string { return h.r.st.ID }

// Snapshot returns a copy of the current state for progress display.
func (h *RunHandle) Snapshot() *RunState { return h.r.snapshot() }

// Cancel requests cooperative cancellation. It is safe to call more than once.
func (h *RunHandle) Cancel() { h.cancel() }

// Done is closed once the run reaches a terminal status.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes and returns the final state.
func (h *RunHandle) Wait() (*RunState, error) {
	<-h.done
	return h.final, h.err
}
