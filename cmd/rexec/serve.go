package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

func newServeCmd() *cobra.Command {
	var (
		stdio   bool
		journal bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve runs over the NDJSON stdio protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stdio {
				return fmt.Errorf("only --stdio is supported")
			}
			// Logs go to stderr so they never corrupt the protocol stream.
			closeLog, err := setupLogging("info", journal)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := prepareRuntimeEnv(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: failed to prepare runtime environment: %v\n", err)
				return err
			}
			defer env.Close()

			srv := newStdIOServer(os.Stdin, os.Stdout, serverDeps{
				Generator: env.Generator,
				Sandbox:   env.Executor,
				Hooks:     env.Deps().Hooks,
				Defaults:  env.Defaults(),
				Record:    env.History.Record,
				Lookup: func(ctx context.Context, id string) (*engine.RunState, error) {
					if env.History == nil {
						return nil, fmt.Errorf("run history disabled")
					}
					return env.History.DB.GetRun(ctx, id)
				},
				Language: env.Executor.Language(),
				Provider: env.Provider,
			})

			if watcher, werr := config.NewWatcher(env.Manager); werr != nil {
				log.Warn("config reload disabled", "error", werr)
			} else if werr := watcher.Start(ctx); werr != nil {
				log.Warn("config reload disabled", "error", werr)
				watcher.Stop()
			} else {
				defer watcher.Stop()
				go srv.watchConfig(watcher.Events())
			}

			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve the NDJSON protocol on stdin/stdout")
	cmd.Flags().BoolVar(&journal, "journal", false, "also log to the systemd journal when running as a service")
	return cmd
}
