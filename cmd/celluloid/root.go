package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"celluloid/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	cfg        *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) newClient() (*client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return newClient(cfg, *c.serverFlag), nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var serverFlag string

	ctx := &commandContext{configFlag: &configFlag, serverFlag: &serverFlag}

	rootCmd := &cobra.Command{
		Use:           "celluloid",
		Short:         "Celluloid video analysis CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Daemon base URL (defaults to the configured api_bind)")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newResultsCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
