package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/engine"
	"github.com/ChamsBouzaiene/rexec/internal/protocol"
)

// serverDeps are the collaborators the stdio server starts runs with.
type serverDeps struct {
	Generator engine.Generator
	Sandbox   engine.Sandbox
	Hooks     engine.Hooks
	Defaults  engine.RunOptions
	Record    func(ctx context.Context, st *engine.RunState)
	Lookup    func(ctx context.Context, id string) (*engine.RunState, error)
	Language  string
	Provider  string
}

type activeRun struct {
	handle    *engine.RunHandle
	requestID string
}

type stdioServer struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event
	deps    serverDeps

	mu       sync.Mutex
	defaults engine.RunOptions
	runs     map[string]*activeRun

	wg     sync.WaitGroup
	emitMu sync.RWMutex
	closed bool
}

func newStdIOServer(in io.Reader, out io.Writer, deps serverDeps) *stdioServer {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &stdioServer{
		scanner:  scanner,
		writer:   bufio.NewWriter(out),
		events:   make(chan protocol.Event, 256),
		deps:     deps,
		defaults: deps.Defaults,
		runs:     make(map[string]*activeRun),
	}
}

// Run reads commands until stdin closes or ctx is cancelled. Active runs are
// allowed to finish on EOF and are cancelled with ctx.
func (s *stdioServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go s.flushEvents(errCh)

	s.emit(protocol.NewReadyEvent(s.deps.Language, s.deps.Provider))

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for s.scanner.Scan() {
			select {
			case lines <- s.scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- s.scanner.Err()
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			// Commands are handled concurrently so cancel_run is honoured while a run is active.
			s.wg.Add(1)
			go func(l string) {
				defer s.wg.Done()
				if err := s.handleLine(ctx, l); err != nil {
					log.Debug("stdio command error", "error", err)
				}
			}(line)
		}
	}

	select {
	case err := <-scanErr:
		if err != nil && !errors.Is(err, io.EOF) {
			s.emit(protocol.NewErrorEvent("", fmt.Sprintf("stdin error: %v", err), "protocol_error", ""))
		}
	default:
	}

	s.wg.Wait()
	s.emitMu.Lock()
	s.closed = true
	close(s.events)
	s.emitMu.Unlock()
	return <-errCh
}

func (s *stdioServer) flushEvents(errCh chan<- error) {
	for ev := range s.events {
		if err := s.writeEvent(ev); err != nil {
			errCh <- err
			// Keep draining so emitters never block.
			for range s.events {
			}
			return
		}
	}
	errCh <- s.writer.Flush()
}

func (s *stdioServer) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return s.writer.Flush()
}

// emit queues an event. Terminal events are never dropped, so emit blocks
// while the buffer is full. Events after shutdown are discarded.
func (s *stdioServer) emit(ev protocol.Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		log.Debug("stdio: dropping event after shutdown", "type", ev.GetType())
		return
	}
	s.events <- ev
}

func (s *stdioServer) handleLine(ctx context.Context, line string) error {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		s.emit(protocol.NewErrorEvent("", err.Error(), "invalid_command", truncate(line, 256)))
		return err
	}

	switch c := cmd.(type) {
	case protocol.StartRunCommand:
		return s.startRun(ctx, c)
	case protocol.CancelRunCommand:
		s.mu.Lock()
		ar, ok := s.runs[c.RunID]
		s.mu.Unlock()
		if !ok {
			err := fmt.Errorf("no active run %s", c.RunID)
			s.emit(protocol.NewErrorEvent(c.RunID, err.Error(), "not_found", ""))
			return err
		}
		ar.handle.Cancel()
		return nil
	case protocol.GetRunCommand:
		s.mu.Lock()
		ar, ok := s.runs[c.RunID]
		s.mu.Unlock()
		if ok {
			s.emit(protocol.NewRunStateEvent(ar.handle.Snapshot(), true))
			return nil
		}
		if s.deps.Lookup != nil {
			st, err := s.deps.Lookup(ctx, c.RunID)
			if err == nil {
				s.emit(protocol.NewRunStateEvent(st, false))
				return nil
			}
			log.Debug("run lookup failed", "run", c.RunID, "error", err)
		}
		err := fmt.Errorf("unknown run %s", c.RunID)
		s.emit(protocol.NewErrorEvent(c.RunID, err.Error(), "not_found", ""))
		return err
	case protocol.PingCommand:
		s.mu.Lock()
		n := len(s.runs)
		s.mu.Unlock()
		s.emit(protocol.NewPongEvent(c.RequestID, n))
		return nil
	default:
		return fmt.Errorf("unhandled command %s", cmd.GetType())
	}
}

func (s *stdioServer) startRun(ctx context.Context, c protocol.StartRunCommand) error {
	s.mu.Lock()
	opts := s.defaults
	s.mu.Unlock()
	if c.MaxAttempts != 0 {
		opts.MaxAttempts = c.MaxAttempts
	}
	if c.TimeoutSeconds != 0 {
		opts = engine.OptionsFromSeconds(opts.MaxAttempts, c.TimeoutSeconds)
	}
	for _, w := range config.CheckBounds(opts.MaxAttempts, int(opts.Timeout.Seconds())) {
		log.Warn(w, "request", c.RequestID)
	}

	ch := make(chan engine.Event, 64)
	hooks := append(engine.Hooks{engine.ChannelHook{Ch: ch}}, s.deps.Hooks...)
	handle, err := engine.StartRun(ctx, c.Prompt, opts, engine.Deps{
		Generator: s.deps.Generator,
		Sandbox:   s.deps.Sandbox,
		Hooks:     hooks,
	})
	if err != nil {
		ev := protocol.NewErrorEvent("", err.Error(), "configuration_error", "")
		ev.RequestID = c.RequestID
		s.emit(ev)
		return err
	}

	runID := handle.ID()
	s.mu.Lock()
	s.runs[runID] = &activeRun{handle: handle, requestID: c.RequestID}
	s.mu.Unlock()
	s.emit(protocol.NewRunStartedEvent(runID, c.RequestID, c.Prompt, opts.MaxAttempts, int(opts.Timeout.Seconds())))

	for ev := range ch {
		if ev.Kind == engine.EventRunFinished {
			break
		}
		if pev, ok := protocol.FromEngineEvent(c.RequestID, ev); ok {
			s.emit(pev)
		}
	}

	st, runErr := handle.Wait()
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()

	if s.deps.Record != nil {
		s.deps.Record(ctx, st)
	}
	s.emit(protocol.NewRunFinishedEvent(c.RequestID, st))
	return runErr
}

// watchConfig applies reloaded run defaults to subsequent runs.
func (s *stdioServer) watchConfig(events <-chan config.ConfigEvent) {
	for ev := range events {
		if ev.Error != nil {
			log.Warn("config reload failed", "error", ev.Error)
			continue
		}
		opts := ev.Config.RunOptions()
		s.mu.Lock()
		s.defaults = opts
		s.mu.Unlock()
		log.Info("config reloaded", "max_attempts", opts.MaxAttempts, "timeout", opts.Timeout)
		s.emit(protocol.NewConfigReloadedEvent(ev.Config.LLMProvider, opts.MaxAttempts, int(opts.Timeout.Seconds())))
	}
}
