// Package memory holds process-local stores used in dev mode and by the
// inline queue driver. State is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

// ScanJobStore keeps jobs in a map plus an insertion-order slice. Every read
// returns copies so callers never share state with the store.
type ScanJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*domain.ScanJob
	order []string
}

func NewScanJobStore() *ScanJobStore {
	return &ScanJobStore{jobs: make(map[string]*domain.ScanJob)}
}

func (s *ScanJobStore) Create(_ context.Context, job *domain.ScanJob) error {
	if job.Status != domain.ScanStatusProcessing {
		return domain.WrapError(domain.ErrValidation, "create scan job", fmt.Errorf("new job must be processing, got %s", job.Status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "create scan job", fmt.Errorf("id=%s already exists", job.ID))
	}
	stored := copyJob(*job)
	s.jobs[job.ID] = &stored
	s.order = append(s.order, job.ID)
	return nil
}

func (s *ScanJobStore) GetByID(_ context.Context, id string) (*domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrScanJobNotFound, "get scan job", fmt.Errorf("id=%s", id))
	}
	out := copyJob(*job)
	return &out, nil
}

func (s *ScanJobStore) List(_ context.Context, filter domain.ScanJobFilter) ([]domain.ScanJob, error) {
	s.mu.Lock()
	out := make([]domain.ScanJob, 0)
	for _, id := range s.order {
		job := s.jobs[id]
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, copyJob(*job))
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *ScanJobStore) Complete(_ context.Context, id string, result domain.ScanResult, completedAt time.Time) error {
	return s.resolve(id, "complete scan job", func(job *domain.ScanJob) {
		res := result
		job.Status = domain.ScanStatusCompleted
		job.Result = &res
		job.CompletedAt = &completedAt
	})
}

func (s *ScanJobStore) Fail(_ context.Context, id string, reason domain.FailureReason, completedAt time.Time) error {
	return s.resolve(id, "fail scan job", func(job *domain.ScanJob) {
		r := reason
		job.Status = domain.ScanStatusFailed
		job.FailureReason = &r
		job.CompletedAt = &completedAt
	})
}

// resolve applies a terminal transition under the lock, only from processing.
func (s *ScanJobStore) resolve(id, op string, apply func(*domain.ScanJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrScanJobNotFound, op, fmt.Errorf("id=%s", id))
	}
	if job.Status != domain.ScanStatusProcessing {
		return domain.WrapError(domain.ErrAlreadyResolved, op, fmt.Errorf("id=%s status=%s", id, job.Status))
	}

	next := copyJob(*job)
	apply(&next)
	if err := next.Validate(); err != nil {
		return domain.WrapError(domain.ErrValidation, op, err)
	}
	s.jobs[id] = &next
	return nil
}

func (s *ScanJobStore) ListStale(_ context.Context, submittedBefore time.Time, limit int) ([]domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScanJob, 0)
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != domain.ScanStatusProcessing || !job.SubmittedAt.Before(submittedBefore) {
			continue
		}
		out = append(out, copyJob(*job))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *ScanJobStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

func copyJob(job domain.ScanJob) domain.ScanJob {
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		job.CompletedAt = &t
	}
	if job.Result != nil {
		r := *job.Result
		job.Result = &r
	}
	if job.FailureReason != nil {
		f := *job.FailureReason
		job.FailureReason = &f
	}
	return job
}
