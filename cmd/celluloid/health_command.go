package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon and store health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			health, err := cli.health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(health)
			}
			fmt.Fprintf(out, "Status:  %s (version %s)\n", health.Status, health.Version)
			if health.StoreError != "" {
				fmt.Fprintf(out, "Store:   %s\n", health.StoreError)
			}
			for _, status := range []string{"queued", "processing", "completed", "failed", "cancelled"} {
				if count := health.JobCounts[status]; count > 0 {
					fmt.Fprintf(out, "%-11s %d\n", status+":", count)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw JSON response")
	return cmd
}
