package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ScanQueryUseCase serves job status reads scoped to the caller.
type ScanQueryUseCase struct {
	repo ports.ScanJobRepository
}

func NewScanQueryUseCase(repo ports.ScanJobRepository) *ScanQueryUseCase {
	return &ScanQueryUseCase{repo: repo}
}

// GetJob reports a job owned by another user as not found.
func (uc *ScanQueryUseCase) GetJob(ctx context.Context, ownerID, jobID string) (*domain.ScanJob, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "get scan job", errors.New("owner identity is required"))
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "get scan job", errors.New("job id is required"))
	}

	job, err := uc.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch scan job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, domain.WrapError(domain.ErrScanJobNotFound, "get scan job", fmt.Errorf("job %s", jobID))
	}
	return job, nil
}

func (uc *ScanQueryUseCase) ListJobs(ctx context.Context, ownerID string, status *domain.ScanStatus, limit int) ([]domain.ScanJob, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "list scan jobs", errors.New("owner identity is required"))
	}

	jobs, err := uc.repo.List(ctx, domain.ScanJobFilter{
		OwnerID: ownerID,
		Status:  status,
		Limit:   clampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list scan jobs: %w", err)
	}
	return jobs, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
