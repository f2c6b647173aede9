package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/patient-portal/internal/bootstrap"
	"github.com/kirillkom/patient-portal/internal/core/domain"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scan jobs",
	}
	jobs.AddCommand(newJobsListCmd(opts), newJobsGetCmd(opts))
	return jobs
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var (
		owner  string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scan jobs of one owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *domain.ScanStatus
			if status != "" {
				parsed, err := domain.ParseScanStatus(status)
				if err != nil {
					return err
				}
				filter = &parsed
			}
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				jobs, err := app.Queries.ListJobs(ctx, owner, filter, limit)
				if err != nil {
					return err
				}
				return printJobs(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&status, "status", "", "processing, completed or failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newJobsGetCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print one scan job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				job, err := app.Queries.GetJob(ctx, owner, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func printJobs(w io.Writer, jobs []domain.ScanJob) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFILE\tSUBMITTED\tDETAIL")
	for _, job := range jobs {
		detail := ""
		switch {
		case job.FailureReason != nil:
			detail = string(job.FailureReason.Kind)
		case job.Result != nil:
			detail = fmt.Sprintf("%s %.0f%%", job.Result.DocumentType, job.Result.Confidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Status, job.FileName, job.SubmittedAt.Format(time.DateTime), detail)
	}
	return tw.Flush()
}
