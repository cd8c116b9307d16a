package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"celluloid/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var webhookURL string
	var threshold float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit EXTERNAL_ID VIDEO_URL",
		Short: "Submit a video for analysis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			job, err := cli.submit(cmd.Context(), api.SubmitRequest{
				ExternalID:          args[0],
				VideoURL:            args[1],
				WebhookURL:          webhookURL,
				SimilarityThreshold: threshold,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(job)
			}
			if job.Deduplicated {
				fmt.Fprintf(out, "Reusing job %s (%s)\n", job.JobID, job.Status)
			} else {
				fmt.Fprintf(out, "Submitted job %s\n", job.JobID)
			}
			if job.QueuePosition > 0 {
				fmt.Fprintf(out, "Queue position: %d", job.QueuePosition)
				if job.EstimatedWait != "" {
					fmt.Fprintf(out, " (estimated wait %s)", job.EstimatedWait)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&webhookURL, "webhook", "", "URL notified when the job finishes")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold for identity tracking (0 uses the server default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw JSON response")
	return cmd
}
