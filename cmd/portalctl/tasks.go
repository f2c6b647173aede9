package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/patient-portal/internal/bootstrap"
	"github.com/kirillkom/patient-portal/internal/core/domain"
)

func newTasksCmd(opts *rootOptions) *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and export task lists",
	}
	tasks.AddCommand(newTasksListCmd(opts), newTasksExportCmd(opts))
	return tasks
}

func newTasksListCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active tasks of one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				tasks, err := app.TaskList.List(ctx, user, nil)
				if err != nil {
					return err
				}
				return printTasks(cmd.OutOrStdout(), tasks)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newTasksExportCmd(opts *rootOptions) *cobra.Command {
	var (
		user string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the task list of one user to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *bootstrap.App) error {
				raw, err := app.TaskList.ExportXLSX(ctx, user)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, raw, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(raw), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVarP(&out, "out", "o", "tasks.xlsx", "output file")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printTasks(w io.Writer, tasks []domain.TaskItem) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tPRIORITY\tSOURCE\tTITLE")
	for _, task := range tasks {
		done := " "
		if task.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", task.ID, done, task.Priority, task.Source, task.Title)
	}
	return tw.Flush()
}
