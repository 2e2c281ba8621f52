package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/sickenflow"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the worker configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, printing it with secrets redacted",
		Args:  cobra.NoArgs,
		RunE:  validateConfig,
	})
	return configCmd
}

func validateConfig(cmd *cobra.Command, _ []string) error {
	conf, err := sickenflow.LoadConfig(configPath(cmd))
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, conf.String())
	fmt.Fprintln(out, "configuration is valid")
	return nil
}
