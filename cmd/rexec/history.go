package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/store"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd(), newHistorySearchCmd(),
		newHistoryExportCmd(), newHistoryDeleteCmd())
	return cmd
}

// withHistory opens the history store for a read-only command.
func withHistory(cmd *cobra.Command, fn func(h *history) error) error {
	closeLog, err := setupLogging("warn", false)
	if err != nil {
		return err
	}
	defer closeLog()

	cfgManager, err := config.NewManager()
	if err != nil {
		return err
	}
	h, err := openHistory(cmd.Context(), cfgManager)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

func newHistoryListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *history) error {
				runs, err := h.DB.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tATTEMPTS\tDURATION\tPROMPT")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n", r.ID, r.StartedAt.Format(time.DateTime),
						r.Status, r.Attempts, r.MaxAttempts, r.Elapsed.Round(time.Millisecond), truncate(r.Prompt, 50))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of runs to show (0 for all)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show every attempt of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *history) error {
				st, err := h.DB.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run:      %s\nprompt:   %s\nstatus:   %s\nattempts: %d/%d\ntimeout:  %s\nstarted:  %s\nduration: %s\n",
					st.ID, st.Prompt, st.Status, len(st.Attempts), st.MaxAttempts, st.Timeout,
					st.StartedAt.Format(time.DateTime), st.Elapsed().Round(time.Millisecond))
				if st.Error != "" {
					fmt.Fprintf(out, "error:    %s\n", st.Error)
				}
				for _, a := range st.Attempts {
					fmt.Fprintf(out, "\n--- attempt %d (%s, %s) ---\n", a.Index, a.Outcome.Kind, a.Elapsed.Round(time.Millisecond))
					if a.Code != "" {
						fmt.Fprintln(out, indent(a.Code, "    "))
					}
					fmt.Fprintln(out, indent(a.Outcome.Summary(), "  > "))
				}
				return nil
			})
		},
	}
}

func newHistorySearchCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search runs by prompt, code and error text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *history) error {
				if h.Search == nil {
					return fmt.Errorf("search index unavailable")
				}
				hits, err := h.Search.Search(strings.Join(args, " "), status, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tSCORE\tSTATUS\tPROMPT")
				for _, hit := range hits {
					fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\n", hit.RunID, hit.Score, hit.Status, truncate(hit.Prompt, 60))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum results")
	return cmd
}

func newHistoryExportCmd() *cobra.Command {
	var codeOnly bool
	cmd := &cobra.Command{
		Use:   "export <run-id> [file]",
		Short: "Export a run's execution log as JSON (stdout when no file)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *history) error {
				st, err := h.DB.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if codeOnly {
					path := "generated_code.py"
					if len(args) == 2 {
						path = args[1]
					}
					return store.WriteCode(path, st)
				}
				if len(args) == 1 {
					return store.ExportJSON(cmd.OutOrStdout(), st)
				}
				return store.ExportFile(args[1], st)
			})
		},
	}
	cmd.Flags().BoolVar(&codeOnly, "code", false, "write only the final program")
	return cmd
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h *history) error {
				if err := h.DB.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				if h.Search != nil {
					if err := h.Search.Delete(args[0]); err != nil {
						log.Warn("failed to remove run from search index", "error", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}
