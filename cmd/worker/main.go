package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kirillkom/patient-portal/internal/bootstrap"
	"github.com/kirillkom/patient-portal/internal/config"
	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/observability/logging"
)

const (
	serviceName         = "worker"
	healthProbeInterval = 5 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.QueueDriver != config.DriverNATS {
		logger.Error("worker requires the nats queue driver", "queue_driver", cfg.QueueDriver)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthLis, err := net.Listen("tcp", ":"+cfg.WorkerHealthPort)
	if err != nil {
		logger.Error("listen health port", "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("worker subscribed", "subject", cfg.NATSSubject, "concurrency", cfg.WorkerConcurrency)
		return app.NATS.SubscribeScanSubmitted(groupCtx, app.Orchestrator.Advance)
	})

	group.Go(func() error {
		return app.NATS.SubscribeScanResolved(groupCtx, func(_ context.Context, event domain.ScanResolvedEvent) {
			logger.Debug("scan resolved", "job_id", event.JobID, "status", event.Status, "failure_kind", event.FailureKind)
		})
	})

	group.Go(func() error {
		app.Sweeper.Run(groupCtx, cfg.SweepInterval)
		return nil
	})

	group.Go(func() error {
		logger.Info("worker metrics listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logger.Info("worker health listening", "addr", healthLis.Addr().String())
		if err := grpcServer.Serve(healthLis); err != nil {
			return fmt.Errorf("grpc health server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		watchProcessorBreaker(groupCtx, app, healthServer, logger)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// watchProcessorBreaker reports NOT_SERVING while the OCR breaker is open.
func watchProcessorBreaker(ctx context.Context, app *bootstrap.App, hs *health.Server, logger *slog.Logger) {
	if app.ProcessorBreakers == nil {
		return
	}
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			open := app.ProcessorBreakers.State(bootstrap.ProcessorOperation) == gobreaker.StateOpen
			if open == !serving {
				continue
			}
			serving = !open
			status := healthpb.HealthCheckResponse_SERVING
			if open {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus("", status)
			logger.Warn("worker health changed", "status", status.String())
		}
	}
}
