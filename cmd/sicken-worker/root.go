package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sicken-worker",
		Short:         "Message-queue inference worker",
		Long:          "sicken-worker answers chat requests from a broker queue with a generative model and publishes correlated responses.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (YAML, TOML or JSON); SICKEN_* environment variables override it")

	root.AddCommand(newRunCmd(), newConfigCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
