package main

import (
	"github.com/spf13/cobra"

	"SwarmQuarry/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "quarryd",
		Short:         "Swarm quarry coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $"+config.EnvConfigPath+" or "+config.DefaultPath+")")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configFlag)
	}

	rootCmd.AddCommand(newServeCommand(loadConfig))
	rootCmd.AddCommand(newLayoutCommand())
	rootCmd.AddCommand(newInspectCommand(loadConfig))
	return rootCmd
}
