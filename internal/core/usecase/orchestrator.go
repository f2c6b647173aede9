package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

// Outcome labels reported to ports.ScanMetrics.FinishScan.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
	OutcomeError     = "error"
)

// ScanOrchestrator owns the scan job lifecycle: it accepts uploads, drives
// each job through the document processor exactly once and hands completed
// jobs to the task generator.
type ScanOrchestrator struct {
	cfg       ScanConfig
	repo      ports.ScanJobRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	processor ports.DocumentProcessor
	generator TaskGenerationService

	idempotency ports.IdempotencyIndex
	metrics     ports.ScanMetrics
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string

	inflight singleflight.Group
}

// TaskGenerationService is the orchestrator's view of the task generator.
type TaskGenerationService interface {
	Generate(ctx context.Context, job domain.ScanJob) ([]domain.TaskItem, error)
}

type OrchestratorOption func(*ScanOrchestrator)

func WithIdempotencyIndex(index ports.IdempotencyIndex) OrchestratorOption {
	return func(o *ScanOrchestrator) {
		o.idempotency = index
	}
}

func WithScanMetrics(metrics ports.ScanMetrics) OrchestratorOption {
	return func(o *ScanOrchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *ScanOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *ScanOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(newID func() string) OrchestratorOption {
	return func(o *ScanOrchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func NewScanOrchestrator(
	cfg ScanConfig,
	repo ports.ScanJobRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	processor ports.DocumentProcessor,
	generator TaskGenerationService,
	opts ...OrchestratorOption,
) *ScanOrchestrator {
	o := &ScanOrchestrator{
		cfg:       cfg.normalize(),
		repo:      repo,
		storage:   storage,
		queue:     queue,
		processor: processor,
		generator: generator,
		metrics:   noopScanMetrics{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Config returns the normalized configuration in effect.
func (o *ScanOrchestrator) Config() ScanConfig {
	return o.cfg
}

// writeContext detaches terminal writes from the caller so a cancelled
// delivery cannot leave a job processing.
func (o *ScanOrchestrator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.WriteTimeout)
}

type noopScanMetrics struct{}

func (noopScanMetrics) StartScan() {}
func (noopScanMetrics) FinishScan(string, domain.FailureKind, time.Duration) {}
func (noopScanMetrics) ObserveQueueLag(time.Duration) {}
func (noopScanMetrics) AddGeneratedTasks(int) {}
func (noopScanMetrics) AddStaleFailed(int) {}
