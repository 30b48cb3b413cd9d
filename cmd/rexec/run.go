package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
	"github.com/ChamsBouzaiene/rexec/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		maxAttempts    int
		timeoutSeconds int
		exportPath     string
		codePath       string
		quiet          bool
	)
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Generate and run a program until it succeeds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := setupLogging("warn", false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := prepareRuntimeEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			prompt := strings.Join(args, " ")
			opts := runOptions(env.Defaults(), maxAttempts, timeoutSeconds)

			out := cmd.OutOrStdout()
			var r *renderer
			if !quiet {
				r = &renderer{w: out, verbose: true}
			}
			st, err := executeRun(ctx, env, prompt, opts, r)
			if st == nil {
				return err
			}

			printResult(out, st)
			if exportPath != "" {
				if xerr := store.ExportFile(exportPath, st); xerr != nil {
					log.Warn("export failed", "error", xerr)
				} else {
					fmt.Fprintf(out, "execution log written to %s\n", exportPath)
				}
			}
			if codePath != "" && st.FinalCode() != "" {
				if werr := store.WriteCode(codePath, st); werr != nil {
					log.Warn("saving code failed", "error", werr)
				} else {
					fmt.Fprintf(out, "code written to %s\n", codePath)
				}
			}
			if err != nil {
				return err
			}
			if st.Status != engine.StatusSucceeded {
				return &runFailedError{Status: st.Status}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxAttempts, "max-attempts", "n", 0, "attempt budget (default from config, else 5)")
	cmd.Flags().IntVarP(&timeoutSeconds, "timeout", "t", 0, "per-execution timeout in seconds (default from config, else 10)")
	cmd.Flags().StringVar(&exportPath, "export", "", "write the execution log as JSON to this file")
	cmd.Flags().StringVar(&codePath, "save-code", "", "write the final program to this file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the final result")
	return cmd
}

// executeRun starts a run, renders its events and records it in history.
// The returned state is nil only when the run never started.
func executeRun(ctx context.Context, env *runtimeEnv, prompt string, opts engine.RunOptions, r *renderer) (*engine.RunState, error) {
	events := make(chan engine.Event, 64)
	handle, err := engine.StartRun(ctx, prompt, opts, env.Deps(engine.ChannelHook{Ch: events}))
	if err != nil {
		return nil, err
	}

	for ev := range events {
		if r != nil {
			r.render(ev, opts.MaxAttempts)
		}
		if ev.Kind == engine.EventRunFinished {
			break
		}
	}

	st, err := handle.Wait()
	env.History.Record(ctx, st)
	return st, err
}

// renderer prints run progress as a live log.
type renderer struct {
	w       io.Writer
	verbose bool
}

func (r *renderer) render(ev engine.Event, maxAttempts int) {
	switch ev.Kind {
	case engine.EventRunStarted:
		fmt.Fprintf(r.w, "run %s started\n", ev.RunID)
	case engine.EventAttemptStarted:
		fmt.Fprintf(r.w, "\n[attempt %d/%d] generating code...\n", ev.Attempt, maxAttempts)
	case engine.EventCodeGenerated:
		fmt.Fprintf(r.w, "[attempt %d/%d] executing %d lines\n", ev.Attempt, maxAttempts, countLines(ev.Code))
		if r.verbose {
			fmt.Fprintln(r.w, indent(ev.Code, "    "))
		}
	case engine.EventAttemptFinished:
		if ev.Outcome == nil {
			return
		}
		label := string(ev.Outcome.Kind)
		if ev.Outcome.Succeeded() {
			fmt.Fprintf(r.w, "[attempt %d/%d] success in %s\n", ev.Attempt, maxAttempts, ev.Elapsed.Round(time.Millisecond))
			return
		}
		fmt.Fprintf(r.w, "[attempt %d/%d] %s: %s\n", ev.Attempt, maxAttempts, label, firstLine(ev.Outcome.Summary()))
	case engine.EventRunFinished:
		fmt.Fprintf(r.w, "\nrun %s %s in %s\n", ev.RunID, ev.Status, ev.Elapsed.Round(time.Millisecond))
	}
}

func printResult(w io.Writer, st *engine.RunState) {
	switch st.Status {
	case engine.StatusSucceeded:
		last := st.LastAttempt()
		fmt.Fprintf(w, "\nsucceeded after %d of %d attempts\n", len(st.Attempts), st.MaxAttempts)
		fmt.Fprintln(w, "--- code ---")
		fmt.Fprintln(w, strings.TrimRight(last.Code, "\n"))
		fmt.Fprintln(w, "--- output ---")
		fmt.Fprint(w, last.Outcome.Output)
		if !strings.HasSuffix(last.Outcome.Output, "\n") {
			fmt.Fprintln(w)
		}
	case engine.StatusFailed:
		fmt.Fprintf(w, "\nfailed: all %d attempts used\n", st.MaxAttempts)
		if last := st.LastAttempt(); last != nil && last.Outcome != nil {
			fmt.Fprintf(w, "last error: %s\n", last.Outcome.Summary())
		}
	case engine.StatusCancelled:
		fmt.Fprintf(w, "\ncancelled after %d attempts\n", len(st.Attempts))
	case engine.StatusAborted:
		fmt.Fprintf(w, "\naborted: %s\n", st.Error)
	}
}

func countLines(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
