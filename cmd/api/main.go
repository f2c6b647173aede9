package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/patient-portal/internal/adapters/http"
	"github.com/kirillkom/patient-portal/internal/bootstrap"
	"github.com/kirillkom/patient-portal/internal/config"
	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/observability/logging"
	"github.com/kirillkom/patient-portal/internal/observability/metrics"
)

const serviceName = "api"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(cfg, app.Orchestrator, app.Queries, app.TaskList, httpadapter.WithMetrics(httpMetrics)).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Single-binary mode: the api advances jobs itself and also sweeps.
	if app.Inline != nil {
		app.Inline.OnScanResolved(func(_ context.Context, event domain.ScanResolvedEvent) {
			logger.Info("scan resolved", "job_id", event.JobID, "status", event.Status)
		})
		group.Go(func() error {
			return app.Inline.SubscribeScanSubmitted(groupCtx, app.Orchestrator.Advance)
		})
		group.Go(func() error {
			app.Sweeper.Run(groupCtx, cfg.SweepInterval)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}
