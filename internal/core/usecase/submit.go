package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

const (
	sniffLen                = 512
	idempotencyPollInterval = 20 * time.Millisecond
)

// Submit validates an upload, stores its bytes and records a processing job
// before anything else happens. Once the job exists, later faults are
// reported through the job itself rather than the returned error.
func (o *ScanOrchestrator) Submit(ctx context.Context, req ports.SubmitRequest) (*domain.ScanJob, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "submit scan", errors.New("owner identity is required"))
	}
	if err := o.validateSize(req.SizeBytes); err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrValidation, "submit scan", errors.New("file body is required"))
	}

	body := bufio.NewReaderSize(req.Body, sniffLen)
	mediaType := normalizeMediaType(req.MimeType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		head, _ := body.Peek(sniffLen)
		mediaType = normalizeMediaType(http.DetectContentType(head))
	}
	if !mediaTypeAllowed(mediaType, o.cfg.AllowedMimeTypes) {
		return nil, domain.WrapError(domain.ErrValidation, "submit scan", fmt.Errorf("file type %q is not accepted", mediaType))
	}

	id := o.newID()
	existing, claimed, err := o.claimKey(ctx, ownerID, req.IdempotencyKey, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	release := func() {
		if claimed {
			o.releaseKey(ctx, ownerID, req.IdempotencyKey, id)
		}
	}

	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(req.FileName))

	written, err := o.storage.Save(ctx, storageKey, io.LimitReader(body, o.cfg.MaxUploadBytes+1))
	if err != nil {
		release()
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if err := o.validateSize(written); err != nil {
		o.discardObject(ctx, storageKey)
		release()
		return nil, err
	}

	job := &domain.ScanJob{
		ID:            id,
		OwnerID:       ownerID,
		FileName:      displayFilename(req.FileName),
		FileSizeBytes: written,
		MimeType:      mediaType,
		StorageKey:    storageKey,
		Status:        domain.ScanStatusProcessing,
		SubmittedAt:   o.now(),
	}
	if err := o.repo.Create(ctx, job); err != nil {
		o.discardObject(ctx, storageKey)
		release()
		return nil, fmt.Errorf("create scan job: %w", err)
	}

	o.logger.Info("scan submitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"mime_type", job.MimeType,
		"size_bytes", job.FileSizeBytes,
	)

	return o.dispatch(ctx, job), nil
}

// Resubmit re-processes the stored bytes of a failed job as a new job. It is
// an explicit caller action; nothing resubmits automatically.
func (o *ScanOrchestrator) Resubmit(ctx context.Context, ownerID, jobID string) (*domain.ScanJob, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "resubmit scan", errors.New("owner identity is required"))
	}

	source, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch scan job: %w", err)
	}
	if source.OwnerID != ownerID {
		return nil, domain.WrapError(domain.ErrScanJobNotFound, "resubmit scan", fmt.Errorf("job %s", jobID))
	}
	if source.Status != domain.ScanStatusFailed {
		return nil, domain.WrapError(domain.ErrConflict, "resubmit scan", fmt.Errorf("job %s is %s", jobID, source.Status))
	}

	job := &domain.ScanJob{
		ID:              o.newID(),
		OwnerID:         source.OwnerID,
		FileName:        source.FileName,
		FileSizeBytes:   source.FileSizeBytes,
		MimeType:        source.MimeType,
		StorageKey:      source.StorageKey,
		Status:          domain.ScanStatusProcessing,
		SubmittedAt:     o.now(),
		ResubmittedFrom: source.ID,
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create scan job: %w", err)
	}

	o.logger.Info("scan resubmitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"resubmitted_from", source.ID,
	)

	return o.dispatch(ctx, job), nil
}

// dispatch publishes the submitted event. A job that cannot be dispatched
// would never be advanced, so it is resolved as failed on the spot.
func (o *ScanOrchestrator) dispatch(ctx context.Context, job *domain.ScanJob) *domain.ScanJob {
	publishErr := o.queue.PublishScanSubmitted(ctx, job.ID)
	if publishErr == nil {
		return job
	}

	kind := domain.FailureUnknown
	if domain.IsKind(publishErr, domain.ErrTemporary) {
		kind = domain.FailureCapacityExceeded
	}
	o.logger.Error("publish scan submitted failed",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"failure_kind", kind,
		"error", publishErr,
	)

	resolved, err := o.resolveFailed(ctx, job.ID, domain.NewFailureReason(kind))
	if err != nil {
		o.logger.Error("fail undispatched scan job", "job_id", job.ID, "error", err)
		return job
	}
	if resolved != nil {
		return resolved
	}
	return job
}

func (o *ScanOrchestrator) validateSize(size int64) error {
	switch {
	case size <= 0:
		return domain.WrapError(domain.ErrValidation, "submit scan", errors.New("file is empty"))
	case size > o.cfg.MaxUploadBytes:
		return domain.WrapError(
			domain.ErrValidation,
			"submit scan",
			fmt.Errorf("file size %d exceeds limit of %d bytes", size, o.cfg.MaxUploadBytes),
		)
	}
	return nil
}

// claimKey reserves an idempotency key for jobID before anything is stored.
// A returned job means an earlier submission holds the key. A holder that has
// not created its job yet is waited for, up to WriteTimeout; if it gives up
// and releases the key the claim is retried.
func (o *ScanOrchestrator) claimKey(ctx context.Context, ownerID, key, jobID string) (*domain.ScanJob, bool, error) {
	key = strings.TrimSpace(key)
	if o.idempotency == nil || key == "" {
		return nil, false, nil
	}

	deadline := time.NewTimer(o.cfg.WriteTimeout)
	defer deadline.Stop()

	for {
		holder, reserved, err := o.idempotency.Reserve(ctx, ownerID, key, jobID)
		if err != nil {
			o.logger.Warn("idempotency reserve failed", "owner_id", ownerID, "error", err)
			return nil, false, nil
		}
		if reserved {
			return nil, true, nil
		}

		job, err := o.repo.GetByID(ctx, holder)
		switch {
		case err == nil && job.OwnerID == ownerID:
			return job, false, nil
		case err == nil:
			return nil, false, domain.WrapError(domain.ErrConflict, "submit scan", errors.New("idempotency key is bound to another owner"))
		case !domain.IsKind(err, domain.ErrScanJobNotFound):
			return nil, false, fmt.Errorf("fetch idempotent scan job: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			return nil, false, domain.WrapError(
				domain.ErrConflict,
				"submit scan",
				fmt.Errorf("submission with idempotency key %q is still in progress", key),
			)
		case <-time.After(idempotencyPollInterval):
		}
	}
}

func (o *ScanOrchestrator) releaseKey(ctx context.Context, ownerID, key, jobID string) {
	writeCtx, cancel := o.writeContext(ctx)
	defer cancel()
	if err := o.idempotency.Release(writeCtx, ownerID, strings.TrimSpace(key), jobID); err != nil {
		o.logger.Warn("idempotency release failed", "job_id", jobID, "error", err)
	}
}

func (o *ScanOrchestrator) discardObject(ctx context.Context, key string) {
	writeCtx, cancel := o.writeContext(ctx)
	defer cancel()
	if err := o.storage.Delete(writeCtx, key); err != nil {
		o.logger.Warn("delete stored object failed", "storage_key", key, "error", err)
	}
}

func displayFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "document"
	}
	return base
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
