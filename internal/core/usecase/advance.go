package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

// Advance drives a processing job to a terminal state. It is safe to call
// more than once for the same job: duplicates in this process share one run,
// and terminal writes are conditioned on the job still being processing.
func (o *ScanOrchestrator) Advance(ctx context.Context, jobID string) error {
	_, err, _ := o.inflight.Do(jobID, func() (any, error) {
		return nil, o.advance(ctx, jobID)
	})
	return err
}

func (o *ScanOrchestrator) advance(ctx context.Context, jobID string) error {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch scan job: %w", err)
	}
	if job.Status.IsTerminal() {
		o.logger.Debug("scan job already resolved", "job_id", job.ID, "status", job.Status)
		return nil
	}

	o.metrics.ObserveQueueLag(o.now().Sub(job.SubmittedAt))
	o.metrics.StartScan()
	started := time.Now()

	result, procErr := o.runProcessor(ctx, job)
	if procErr != nil {
		return o.failJob(ctx, job, procErr, time.Since(started))
	}
	return o.completeJob(ctx, job, result, time.Since(started))
}

type processOutcome struct {
	result domain.ScanResult
	err    error
}

// runProcessor loads the stored bytes and runs the processor under the
// configured budget. The wait ends at the deadline even if the processor
// ignores its context.
func (o *ScanOrchestrator) runProcessor(ctx context.Context, job *domain.ScanJob) (domain.ScanResult, error) {
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProcessTimeout)
	defer cancel()

	content, err := o.loadContent(procCtx, job.StorageKey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ScanResult{}, domain.NewProcessError(domain.FailureTimeout, err)
		}
		return domain.ScanResult{}, domain.NewProcessError(domain.FailureUnknown, err)
	}

	done := make(chan processOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- processOutcome{err: domain.NewProcessError(domain.FailureUnknown, fmt.Errorf("processor panic: %v", r))}
			}
		}()
		result, err := o.processor.Process(procCtx, content, job.MimeType)
		done <- processOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(procCtx.Err(), context.DeadlineExceeded) {
				return domain.ScanResult{}, domain.NewProcessError(domain.FailureTimeout, out.err)
			}
			return domain.ScanResult{}, out.err
		}
		if err := out.result.Validate(); err != nil {
			return domain.ScanResult{}, domain.NewProcessError(domain.FailureUnknown, fmt.Errorf("invalid processor result: %w", err))
		}
		return out.result, nil
	case <-procCtx.Done():
		return domain.ScanResult{}, domain.NewProcessError(
			domain.FailureTimeout,
			fmt.Errorf("processor exceeded %s: %w", o.cfg.ProcessTimeout, procCtx.Err()),
		)
	}
}

func (o *ScanOrchestrator) loadContent(ctx context.Context, storageKey string) ([]byte, error) {
	rc, err := o.storage.Open(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored document: %w", err)
	}
	return content, nil
}

func (o *ScanOrchestrator) completeJob(ctx context.Context, job *domain.ScanJob, result domain.ScanResult, elapsed time.Duration) error {
	writeCtx, cancel := o.writeContext(ctx)
	defer cancel()

	completedAt := o.now()
	if err := o.repo.Complete(writeCtx, job.ID, result, completedAt); err != nil {
		if domain.IsKind(err, domain.ErrAlreadyResolved) {
			o.metrics.FinishScan(OutcomeDiscarded, "", elapsed)
			o.logger.Info("late scan result discarded", "job_id", job.ID)
			return nil
		}
		o.metrics.FinishScan(OutcomeError, "", elapsed)
		return fmt.Errorf("complete scan job: %w", err)
	}

	job.Status = domain.ScanStatusCompleted
	job.CompletedAt = &completedAt
	job.Result = &result
	o.metrics.FinishScan(OutcomeCompleted, "", elapsed)
	o.logger.Info("scan completed",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"document_type", result.DocumentType,
		"confidence", result.Confidence,
		"duration_ms", elapsed.Milliseconds(),
	)

	o.generateTasks(writeCtx, *job)
	o.publishResolved(writeCtx, *job)
	return nil
}

func (o *ScanOrchestrator) failJob(ctx context.Context, job *domain.ScanJob, procErr error, elapsed time.Duration) error {
	kind := domain.ClassifyProcessError(procErr)
	attrs := []any{
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"mime_type", job.MimeType,
		"size_bytes", job.FileSizeBytes,
		"failure_kind", kind,
		"duration_ms", elapsed.Milliseconds(),
		"error", procErr,
	}
	if kind == domain.FailureUnknown {
		o.logger.Error("scan processing failed", attrs...)
	} else {
		o.logger.Warn("scan processing failed", attrs...)
	}

	resolved, err := o.resolveFailed(ctx, job.ID, domain.NewFailureReason(kind))
	if err != nil {
		if domain.IsKind(err, domain.ErrAlreadyResolved) {
			o.metrics.FinishScan(OutcomeDiscarded, kind, elapsed)
			o.logger.Info("late scan failure discarded", "job_id", job.ID)
			return nil
		}
		o.metrics.FinishScan(OutcomeError, kind, elapsed)
		return err
	}

	o.metrics.FinishScan(OutcomeFailed, kind, elapsed)
	if resolved != nil {
		writeCtx, cancel := o.writeContext(ctx)
		defer cancel()
		o.publishResolved(writeCtx, *resolved)
	}
	return nil
}

// resolveFailed records a failure and returns the job as stored afterwards.
func (o *ScanOrchestrator) resolveFailed(ctx context.Context, jobID string, reason domain.FailureReason) (*domain.ScanJob, error) {
	writeCtx, cancel := o.writeContext(ctx)
	defer cancel()

	if err := o.repo.Fail(writeCtx, jobID, reason, o.now()); err != nil {
		if domain.IsKind(err, domain.ErrAlreadyResolved) {
			return nil, err
		}
		return nil, fmt.Errorf("fail scan job: %w", err)
	}

	job, err := o.repo.GetByID(writeCtx, jobID)
	if err != nil {
		o.logger.Warn("reload failed scan job", "job_id", jobID, "error", err)
		return nil, nil
	}
	return job, nil
}

func (o *ScanOrchestrator) generateTasks(ctx context.Context, job domain.ScanJob) {
	if o.generator == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task generation panicked", "job_id", job.ID, "panic", fmt.Sprint(r))
		}
	}()

	tasks, err := o.generator.Generate(ctx, job)
	if err != nil {
		o.logger.Warn("task generation failed", "job_id", job.ID, "error", err)
		return
	}
	if len(tasks) > 0 {
		o.metrics.AddGeneratedTasks(len(tasks))
	}
}

func (o *ScanOrchestrator) publishResolved(ctx context.Context, job domain.ScanJob) {
	if err := o.queue.PublishScanResolved(ctx, domain.NewScanResolvedEvent(job)); err != nil {
		o.logger.Warn("publish scan resolved failed", "job_id", job.ID, "error", err)
	}
}
