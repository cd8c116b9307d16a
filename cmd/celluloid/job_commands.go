package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"celluloid/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			job, err := cli.status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(job)
			}
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "Job:         %s\n", job.JobID)
			fmt.Fprintf(out, "External ID: %s\n", job.ExternalID)
			fmt.Fprintf(out, "Status:      %s\n", renderStatus(job.Status, colorize))
			fmt.Fprintf(out, "Progress:    %.0f%%\n", job.Progress)
			if job.QueuePosition > 0 {
				fmt.Fprintf(out, "Queue:       position %d", job.QueuePosition)
				if job.EstimatedWait != "" {
					fmt.Fprintf(out, ", estimated wait %s", job.EstimatedWait)
				}
				fmt.Fprintln(out)
			}
			if job.Error != "" {
				fmt.Fprintf(out, "Error:       %s\n", job.Error)
			}
			if job.ResultPath != "" {
				fmt.Fprintf(out, "Result:      %s\n", job.ResultPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw JSON response")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var externalID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			jobs, err := cli.list(cmd.Context(), statuses, externalID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(api.JobListResponse{Jobs: jobs})
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.JobID,
					job.ExternalID,
					job.Status,
					fmt.Sprintf("%.0f%%", job.Progress),
					job.CreatedAt,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"JOB", "EXTERNAL ID", "STATUS", "PROGRESS", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&externalID, "external-id", "", "Filter by external identifier")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw JSON response")
	return cmd
}

func newResultsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results JOB_ID",
		Short: "Fetch the result document for a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			document, job, done, err := cli.results(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !done {
				fmt.Fprintf(out, "Job %s is %s (%.0f%%)\n", job.JobID, job.Status, job.Progress)
				return nil
			}
			_, err = out.Write(append(document, '\n'))
			return err
		},
	}
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			job, err := cli.cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", job.JobID)
			return nil
		},
	}
	return cmd
}
