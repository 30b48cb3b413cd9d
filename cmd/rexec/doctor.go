package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
	"github.com/ChamsBouzaiene/rexec/internal/providers"
	"github.com/ChamsBouzaiene/rexec/internal/sandbox"
)

// doctorProbe is a trivial program every sandbox must run.
const doctorProbe = `print("ok")`

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check provider configuration and sandbox availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := setupLogging("error", false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			out := cmd.OutOrStdout()

			healthy := true
			cfgManager, cfg, err := loadUserConfig()
			if err != nil {
				return err
			}
			check(out, "config", nil, fmt.Sprintf("%s (exists: %t)", cfgManager.GetConfigPath(), cfgManager.Exists()))

			provider := os.Getenv("LLM_PROVIDER")
			if provider == "" {
				provider = "openai"
			}
			_, model, perr := providers.NewLLMClient(ctx, provider)
			healthy = check(out, "provider", perr, fmt.Sprintf("%s, model %s", provider, model)) && healthy

			sbxCfg := sandbox.DefaultConfig()
			if sandboxMode != "" {
				mode, err := sandbox.ParseMode(sandboxMode)
				if err != nil {
					return err
				}
				sbxCfg.Mode = mode
			}
			available := make(map[sandbox.Mode]bool)
			for _, mode := range []sandbox.Mode{sandbox.ModeDocker, sandbox.ModeHost, sandbox.ModeStarlark} {
				detail, err := probeSandbox(ctx, mode, sbxCfg)
				label := "sandbox " + string(mode)
				if mode == sbxCfg.Mode {
					label += " (selected)"
				}
				available[mode] = check(out, label, err, detail)
			}
			if sbxCfg.Mode == sandbox.ModeAuto {
				healthy = (available[sandbox.ModeDocker] || available[sandbox.ModeStarlark]) && healthy
			} else {
				healthy = available[sbxCfg.Mode] && healthy
			}

			opts := cfg.RunOptions()
			check(out, "defaults", nil, fmt.Sprintf("max attempts %d, timeout %s", opts.MaxAttempts, opts.Timeout))

			if !healthy {
				return fmt.Errorf("some checks failed")
			}
			return nil
		},
	}
}

func probeSandbox(ctx context.Context, mode sandbox.Mode, cfg sandbox.Config) (string, error) {
	runner, err := sandbox.NewRunner(ctx, mode, cfg)
	if err != nil {
		return "", err
	}
	if c, ok := runner.(interface{ Close() error }); ok {
		defer c.Close()
	}
	out, err := sandbox.NewExecutor(runner, false).Execute(ctx, doctorProbe, 30*time.Second)
	if err != nil {
		return "", err
	}
	if out.Kind != engine.OutcomeSuccess {
		return "", fmt.Errorf("probe %s: %s", out.Kind, out.Summary())
	}
	detail := "language " + runner.Language()
	if d, ok := runner.(*sandbox.DockerRunner); ok {
		detail += ", image " + d.Image()
	}
	return detail, nil
}

func check(w io.Writer, name string, err error, detail string) bool {
	if err != nil {
		fmt.Fprintf(w, "[FAIL] %-28s %v\n", name, err)
		return false
	}
	fmt.Fprintf(w, "[ OK ] %-28s %s\n", name, detail)
	return true
}
