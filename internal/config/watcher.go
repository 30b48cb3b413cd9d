package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigEvent represents a configuration change event.
type ConfigEvent struct {
	Path   string
	Config *Config
	Error  error
}

// Watcher reloads config.json whenever it changes on disk.
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	events   chan ConfigEvent
	debounce time.Duration

	mu      sync.RWMutex
	current *Config

	started  bool
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for the manager's config file.
func NewWatcher(m *Manager) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		manager:  m,
		watcher:  fsWatcher,
		events:   make(chan ConfigEvent, 10),
		debounce: 100 * time.Millisecond,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the channel that receives config change events.
// It is closed once the watch loop exits.
func (w *Watcher) Events() <-chan ConfigEvent {
	return w.events
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start loads the current config and begins watching the config directory.
// The directory is watched rather than the file so editors that replace the
// file on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	cfg, err := w.manager.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if err := w.watcher.Add(w.manager.Dir()); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.manager.Dir(), err)
	}

	w.started = true
	go w.run(ctx)
	return nil
}

// Stop closes the watcher and waits for the watch loop to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.quit)
		err = w.watcher.Close()
		if w.started {
			<-w.done
		} else {
			close(w.events)
		}
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	target := filepath.Clean(w.manager.GetConfigPath())
	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			} else if event.Op&fsnotify.Remove != 0 {
				w.publish(ctx, ConfigEvent{Path: target, Error: fmt.Errorf("config removed: %s", target)})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.publish(ctx, ConfigEvent{Error: err})

		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				pending = time.Time{}
				w.reload(ctx, target)
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string) {
	cfg, err := w.manager.Load()
	if err != nil {
		w.publish(ctx, ConfigEvent{
			Path:  path,
			Error: fmt.Errorf("failed to load config %s: %w", path, err),
		})
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.publish(ctx, ConfigEvent{Path: path, Config: cfg})
}

func (w *Watcher) publish(ctx context.Context, ev ConfigEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	case <-w.quit:
	}
}
