package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/rexec/internal/config"
	"github.com/ChamsBouzaiene/rexec/internal/providers"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change persistent settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.NewManager()
			if err != nil {
				return err
			}
			cfg, err := m.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", m.GetConfigPath())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, kv := range config.SortedValues(cfg) {
				fmt.Fprintf(tw, "%s\t%s\n", kv[0], kv[1])
			}
			return tw.Flush()
		},
	}, &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd, args[0], args[1])
		},
	}, &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.NewManager()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.GetConfigPath())
			return nil
		},
	})
	return cmd
}

func setConfigValue(cmd *cobra.Command, key, value string) error {
	m, err := config.NewManager()
	if err != nil {
		return err
	}
	cfg, err := m.Load()
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if key == "llm_provider" && !isSupportedProvider(cfg.LLMProvider) {
		return fmt.Errorf("unsupported provider %q (supported: %v)", value, providers.SupportedProviders())
	}
	if warnings := config.CheckBounds(cfg.MaxAttempts, cfg.TimeoutSeconds); len(warnings) > 0 {
		for _, w := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
	}
	if err := m.Save(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", key)
	return nil
}

func isSupportedProvider(name string) bool {
	for _, p := range providers.SupportedProviders() {
		if p == name {
			return true
		}
	}
	return false
}
