package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/patient-portal/internal/config"
	"github.com/kirillkom/patient-portal/internal/core/ports"
	"github.com/kirillkom/patient-portal/internal/core/usecase"
	"github.com/kirillkom/patient-portal/internal/infrastructure/export/xlsx"
	idemmemory "github.com/kirillkom/patient-portal/internal/infrastructure/idempotency/memory"
	"github.com/kirillkom/patient-portal/internal/infrastructure/idempotency/redisindex"
	"github.com/kirillkom/patient-portal/internal/infrastructure/processor/local"
	"github.com/kirillkom/patient-portal/internal/infrastructure/processor/remote"
	"github.com/kirillkom/patient-portal/internal/infrastructure/queue/inline"
	natsqueue "github.com/kirillkom/patient-portal/internal/infrastructure/queue/nats"
	"github.com/kirillkom/patient-portal/internal/infrastructure/repository/memory"
	"github.com/kirillkom/patient-portal/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/patient-portal/internal/infrastructure/resilience"
	"github.com/kirillkom/patient-portal/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/patient-portal/internal/infrastructure/storage/s3"
	"github.com/kirillkom/patient-portal/internal/infrastructure/taskpolicy"
	"github.com/kirillkom/patient-portal/internal/observability/metrics"
)

// ProcessorOperation is the breaker name guarding the remote OCR call.
const ProcessorOperation = "ocr.extract"

type App struct {
	Config config.Config
	Logger *slog.Logger

	Jobs    ports.ScanJobRepository
	Tasks   ports.TaskStore
	Storage ports.ObjectStorage
	Queue   ports.MessageQueue
	// Inline is set when jobs are advanced inside the api process.
	Inline *inline.Queue
	// NATS is set when a broker carries the pipeline events.
	NATS *natsqueue.Queue

	Metrics           *metrics.WorkerMetrics
	ProcessorBreakers *resilience.Executor

	Orchestrator *usecase.ScanOrchestrator
	Queries      *usecase.ScanQueryUseCase
	TaskList     *usecase.TaskListUseCase
	Sweeper      *usecase.StaleJobSweeper

	closers []func()
}

// New wires every adapter selected by cfg. service labels logs and metrics.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewWorkerMetrics(service),
	}

	steps := []func(context.Context) error{
		app.openStores,
		app.openStorage,
		app.openQueue,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	processor, err := app.newProcessor()
	if err != nil {
		app.Close()
		return nil, err
	}
	index, err := app.newIdempotencyIndex(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	scanCfg := cfg.ScanConfig()
	generator := usecase.NewTaskGenerator(taskpolicy.NewKeywordPolicy(), app.Tasks, scanCfg.MaxTasksPerJob, logger)
	opts := []usecase.OrchestratorOption{
		usecase.WithScanMetrics(app.Metrics),
		usecase.WithLogger(logger),
	}
	if index != nil {
		opts = append(opts, usecase.WithIdempotencyIndex(index))
	}

	app.Orchestrator = usecase.NewScanOrchestrator(scanCfg, app.Jobs, app.Storage, app.Queue, processor, generator, opts...)
	app.Queries = usecase.NewScanQueryUseCase(app.Jobs)
	app.TaskList = usecase.NewTaskListUseCase(app.Tasks, xlsx.NewExporter(logger))
	app.Sweeper = usecase.NewStaleJobSweeper(app.Jobs, app.Queue, app.Metrics, scanCfg, logger)

	logger.Info("bootstrap complete",
		"store", cfg.StoreDriver,
		"storage", cfg.StorageDriver,
		"queue", cfg.QueueDriver,
		"processor", cfg.ProcessorDriver,
		"idempotency", cfg.IdempotencyDriver,
	)
	return app, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case config.DriverPostgres:
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.Jobs = postgres.NewScanJobRepository(db)
		a.Tasks = postgres.NewTaskRepository(db)
	case config.DriverMemory:
		a.Jobs = memory.NewScanJobStore()
		a.Tasks = memory.NewTaskStore()
	default:
		return fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
	}
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.StorageDriver {
	case config.DriverLocalFS:
		storage, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Storage = storage
	case config.DriverMinIO:
		storage, err := s3.New(ctx, s3.Config{
			Endpoint:        a.Config.MinIOEndpoint,
			AccessKeyID:     a.Config.MinIOAccessKeyID,
			SecretAccessKey: a.Config.MinIOSecretKey,
			UseSSL:          a.Config.MinIOUseSSL,
			Bucket:          a.Config.MinIOBucket,
			BasePath:        a.Config.MinIOBasePath,
		})
		if err != nil {
			return fmt.Errorf("init minio storage: %w", err)
		}
		a.Storage = storage
	default:
		return fmt.Errorf("unknown storage driver %q", a.Config.StorageDriver)
	}
	return nil
}

func (a *App) openQueue(context.Context) error {
	switch a.Config.QueueDriver {
	case config.DriverNATS:
		executor := resilience.NewExecutor(a.Config.ResilienceConfig(), a.executorOptions()...)
		queue, err := natsqueue.NewWithOptions(a.Config.NATSURL, a.Config.NATSSubject, natsqueue.Options{
			ResolvedSubject:    a.Config.NATSResolvedSubject,
			MaxInFlight:        a.Config.WorkerConcurrency,
			ResilienceExecutor: executor,
			Logger:             a.Logger,
		})
		if err != nil {
			return fmt.Errorf("init message queue: %w", err)
		}
		a.closers = append(a.closers, queue.Close)
		a.NATS = queue
		a.Queue = queue
	case config.DriverInline:
		queue := inline.New(a.Logger,
			inline.WithWorkers(a.Config.WorkerConcurrency),
			inline.WithQueueSize(a.Config.InlineQueueSize),
		)
		a.Inline = queue
		a.Queue = queue
	default:
		return fmt.Errorf("unknown queue driver %q", a.Config.QueueDriver)
	}
	return nil
}

func (a *App) newProcessor() (ports.DocumentProcessor, error) {
	switch a.Config.ProcessorDriver {
	case config.DriverRemote:
		a.ProcessorBreakers = resilience.NewExecutor(a.Config.ProcessorResilienceConfig(), a.executorOptions()...)
		client, err := remote.New(a.Config.OCRServiceURL, remote.Options{
			APIKey:             a.Config.OCRServiceAPIKey,
			HTTPTimeout:        a.Config.ProcessTimeout,
			ResilienceExecutor: a.ProcessorBreakers,
		})
		if err != nil {
			return nil, fmt.Errorf("init remote processor: %w", err)
		}
		return client, nil
	case config.DriverLocal:
		return local.New(local.Config{
			Tesseract:     a.Config.TesseractPath,
			Language:      a.Config.TesseractLang,
			MaxConcurrent: a.Config.LocalOCRConcurrency,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown processor driver %q", a.Config.ProcessorDriver)
	}
}

func (a *App) executorOptions() []resilience.Option {
	return []resilience.Option{
		resilience.WithLogger(a.Logger),
		resilience.WithStateObserver(func(operation string, _, to gobreaker.State) {
			a.Metrics.SetBreakerState(operation, to.String())
		}),
	}
}

// newIdempotencyIndex returns nil when keys are disabled.
func (a *App) newIdempotencyIndex(ctx context.Context) (ports.IdempotencyIndex, error) {
	switch a.Config.IdempotencyDriver {
	case config.DriverOff:
		return nil, nil
	case config.DriverMemory:
		return idemmemory.New(a.Config.IdempotencyTTL), nil
	case config.DriverRedis:
		client, err := redisindex.NewClient(ctx, redisindex.Config{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis idempotency index: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return redisindex.New(client, a.Config.IdempotencyTTL), nil
	default:
		return nil, fmt.Errorf("unknown idempotency driver %q", a.Config.IdempotencyDriver)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
