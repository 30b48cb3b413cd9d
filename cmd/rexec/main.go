package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/logger"
)

var (
	// Global flags
	logLevel    string
	logFile     string
	sandboxMode string
	dataDir     string
	noHistory   bool
)

var rootCmd = &cobra.Command{
	Use:   "rexec",
	Short: "Generate programs with an LLM and run them until they work",
	Long: `rexec turns a natural-language request into a program, runs it in a sandbox,
and feeds every failure back to the model until the program succeeds or the
attempt budget is spent.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&sandboxMode, "sandbox", "", "sandbox mode: docker, host, starlark or auto")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for run history (default: the config directory)")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record runs")

	rootCmd.AddCommand(newRunCmd(), newBatchCmd(), newReplCmd(), newServeCmd(),
		newHistoryCmd(), newConfigCmd(), newDoctorCmd())
}

func main() {
	// Load .env file if it exists
	config.LoadDotEnv()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// setupLogging applies --log-level, falling back to the command's default.
func setupLogging(defaultLevel string, journal bool) (func() error, error) {
	level := logLevel
	if level == "" {
		level = defaultLevel
	}
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.Level.Set(lvl)

	l, closeFn, err := logger.New(logger.Options{File: logFile, Journal: journal})
	if err != nil {
		return nil, err
	}
	setDefaultLogger(l)
	return closeFn, nil
}
