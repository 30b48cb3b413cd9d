package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

const replHelp = `Type a request to generate and run a program. Commands:
  :attempts N   set the attempt budget
  :timeout S    set the per-execution timeout in seconds
  :code         print the last successful program
  :help         show this help
  exit          quit
Ctrl+C during a run cancels it.`

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session: one run per request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := setupLogging("warn", false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			env, err := prepareRuntimeEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			historyFile := ""
			if env.Manager != nil {
				historyFile = filepath.Join(env.Manager.Dir(), "repl_history")
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "rexec> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to init terminal input: %w", err)
			}
			defer rl.Close()

			out := rl.Stdout()
			opts := env.Defaults()
			var lastCode string

			fmt.Fprintf(out, "rexec (%s, %s sandbox). Type :help for commands.\n", env.Model, env.Executor.Language())
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				line = strings.TrimSpace(line)
				switch {
				case line == "":
					continue
				case line == "exit" || line == "quit" || line == ":q":
					return nil
				case line == ":help":
					fmt.Fprintln(out, replHelp)
					continue
				case line == ":code":
					if lastCode == "" {
						fmt.Fprintln(out, "no successful program yet")
					} else {
						fmt.Fprintln(out, lastCode)
					}
					continue
				case strings.HasPrefix(line, ":attempts "), strings.HasPrefix(line, ":timeout "):
					if err := applyReplSetting(&opts, line); err != nil {
						fmt.Fprintln(out, err)
					} else {
						fmt.Fprintf(out, "max attempts %d, timeout %s\n", opts.MaxAttempts, opts.Timeout)
					}
					continue
				}

				runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				st, err := executeRun(runCtx, env, line, opts, &renderer{w: out})
				stop()
				if st == nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				printResult(out, st)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
				if st.Status == engine.StatusSucceeded {
					lastCode = st.FinalCode()
				}
			}
		},
	}
}

func applyReplSetting(opts *engine.RunOptions, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("usage: %s N", fields[0])
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("%s expects a positive integer", fields[0])
	}
	switch fields[0] {
	case ":attempts":
		opts.MaxAttempts = n
	case ":timeout":
		*opts = engine.OptionsFromSeconds(opts.MaxAttempts, n)
	}
	return nil
}
