package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirillkom/patient-portal/internal/bootstrap"
	"github.com/kirillkom/patient-portal/internal/config"
	"github.com/kirillkom/patient-portal/internal/observability/logging"
)

const serviceName = "portalctl"

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operate the patient portal scan pipeline",
		Long:          "portalctl inspects scan jobs, runs the stale job sweep and exports task lists using the same configuration as the services.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log bootstrap details to stderr")

	root.AddCommand(
		newJobsCmd(opts),
		newTasksCmd(opts),
		newSweepCmd(opts),
	)
	return root
}

// withApp loads configuration, wires the application and closes it after fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.verbose {
		logger = logging.NewJSONLogger(serviceName, "debug")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	return fn(ctx, app)
}
