package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/batch"
	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

func newBatchCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "batch <plan.yaml>",
		Short: "Run every prompt in a plan file concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := setupLogging("info", false)
			if err != nil {
				return err
			}
			defer closeLog()

			plans, err := config.LoadPlan(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := prepareRuntimeEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			for _, p := range plans {
				opts := p.Options(env.Defaults())
				for _, w := range config.CheckBounds(opts.MaxAttempts, int(opts.Timeout.Seconds())) {
					log.Warn(w, "plan", p.Name)
				}
			}

			log.Info("starting batch", "plans", len(plans), "concurrency", concurrency)
			results := batch.Run(ctx, plans, env.Defaults(), concurrency,
				func(ctx context.Context, prompt string, opts engine.RunOptions) (*engine.RunState, error) {
					st, err := engine.Run(ctx, prompt, opts, env.Generator, env.Executor, env.Deps().Hooks)
					env.History.Record(ctx, st)
					return st, err
				})

			printBatchResults(cmd, results)

			counts := batch.Summary(results)
			if counts[engine.StatusSucceeded] != len(results) {
				return fmt.Errorf("%d of %d runs did not succeed", len(results)-counts[engine.StatusSucceeded], len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "maximum runs in flight")
	return cmd
}

func printBatchResults(cmd *cobra.Command, results []batch.Result) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tATTEMPTS\tDURATION\tRUN\tDETAIL")
	for _, r := range results {
		var attempts, runID, detail string
		if r.State != nil {
			attempts = fmt.Sprintf("%d/%d", len(r.State.Attempts), r.State.MaxAttempts)
			runID = r.State.ID
			if last := r.State.LastAttempt(); last != nil && last.Outcome != nil && !last.Outcome.Succeeded() {
				detail = firstLine(last.Outcome.Summary())
			}
		}
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Plan.Name, r.Status(), attempts,
			r.Duration.Round(time.Millisecond), runID, truncate(detail, 60))
	}
	tw.Flush()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
