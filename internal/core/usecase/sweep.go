package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

const sweepBatchSize = 100

// staleFailureMessage replaces the generic timeout text: the job was lost
// rather than slow.
const staleFailureMessage = "Processing did not finish in time. You can submit the document again."

// StaleJobSweeper fails jobs that stayed processing past the budget, which
// covers lost messages, crashed workers and failed terminal writes.
type StaleJobSweeper struct {
	repo       ports.ScanJobRepository
	queue      ports.MessageQueue
	metrics    ports.ScanMetrics
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

func NewStaleJobSweeper(
	repo ports.ScanJobRepository,
	queue ports.MessageQueue,
	metrics ports.ScanMetrics,
	cfg ScanConfig,
	logger *slog.Logger,
) *StaleJobSweeper {
	if metrics == nil {
		metrics = noopScanMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleJobSweeper{
		repo:       repo,
		queue:      queue,
		metrics:    metrics,
		logger:     logger,
		staleAfter: cfg.normalize().StaleAfter(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce resolves every stale job it can find and reports how many it
// failed. Jobs resolved concurrently by a worker are skipped.
func (s *StaleJobSweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	failed := 0

	for {
		jobs, err := s.repo.ListStale(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return failed, fmt.Errorf("list stale scan jobs: %w", err)
		}
		if len(jobs) == 0 {
			break
		}

		for _, job := range jobs {
			ok, err := s.failStale(ctx, job)
			if err != nil {
				return failed, err
			}
			if ok {
				failed++
			}
		}
		if len(jobs) < sweepBatchSize {
			break
		}
	}

	if failed > 0 {
		s.metrics.AddStaleFailed(failed)
		s.logger.Warn("stale scan jobs failed", "count", failed, "stale_after", s.staleAfter.String())
	}
	return failed, nil
}

func (s *StaleJobSweeper) failStale(ctx context.Context, job domain.ScanJob) (bool, error) {
	reason := domain.FailureReason{Kind: domain.FailureTimeout, Message: staleFailureMessage}
	completedAt := s.now()

	if err := s.repo.Fail(ctx, job.ID, reason, completedAt); err != nil {
		if domain.IsKind(err, domain.ErrAlreadyResolved) {
			return false, nil
		}
		return false, fmt.Errorf("fail stale scan job %s: %w", job.ID, err)
	}

	job.Status = domain.ScanStatusFailed
	job.CompletedAt = &completedAt
	job.FailureReason = &reason
	s.logger.Warn("stale scan job failed",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"submitted_at", job.SubmittedAt,
	)
	if err := s.queue.PublishScanResolved(ctx, domain.NewScanResolvedEvent(job)); err != nil {
		s.logger.Warn("publish scan resolved failed", "job_id", job.ID, "error", err)
	}
	return true, nil
}

// Run sweeps on every tick until ctx is done.
func (s *StaleJobSweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("stale job sweep failed", "error", err)
			}
		}
	}
}
