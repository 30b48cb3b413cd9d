// Package logger builds the process-wide slog logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Level is shared by every handler so --log-level applies everywhere.
var Level = new(slog.LevelVar)

// ParseLevel maps a flag value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Options configures New.
type Options struct {
	// Terminal receives human-readable text. Defaults to stderr.
	Terminal io.Writer
	// File, when set, receives JSON records appended to this path.
	File string
	// Journal enables the systemd journal handler when running as a service.
	Journal bool
}

// New builds a logger fanning out to the configured handlers. The returned
// close function releases the log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	var handlers []slog.Handler
	closer := func() error { return nil }

	terminal := opts.Terminal
	if terminal == nil {
		terminal = os.Stderr
	}
	terminalHandler := slog.NewTextHandler(terminal, &slog.HandlerOptions{Level: Level})
	handlers = append(handlers, terminalHandler)

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, closer, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: Level}))
		closer = f.Close
	}

	if opts.Journal && isSystemdService() {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
			record.Add("error", err)
			_ = terminalHandler.Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journalHandler)
		}
	}

	return slog.New(&Handler{Handler: slogmulti.Fanout(handlers...)}), closer, nil
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}
