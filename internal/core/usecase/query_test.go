package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

func seedJobs(repo *jobRepoFake) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completedAt := base.Add(time.Hour)
	repo.jobs["a"] = domain.ScanJob{ID: "a", OwnerID: "patient-1", Status: domain.ScanStatusProcessing, SubmittedAt: base}
	repo.jobs["b"] = domain.ScanJob{
		ID:          "b",
		OwnerID:     "patient-1",
		Status:      domain.ScanStatusCompleted,
		SubmittedAt: base.Add(time.Minute),
		CompletedAt: &completedAt,
		Result:      &domain.ScanResult{ExtractedText: "x", Confidence: 50},
	}
	repo.jobs["c"] = domain.ScanJob{ID: "c", OwnerID: "patient-2", Status: domain.ScanStatusProcessing, SubmittedAt: base.Add(2 * time.Minute)}
}

func TestGetJobScopesToOwner(t *testing.T) {
	repo := newJobRepoFake()
	seedJobs(repo)
	uc := NewScanQueryUseCase(repo)

	job, err := uc.GetJob(context.Background(), "patient-1", "a")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.ID != "a" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if _, err := uc.GetJob(context.Background(), "patient-1", "c"); !domain.IsKind(err, domain.ErrScanJobNotFound) {
		t.Fatalf("expected not found for foreign job, got %v", err)
	}
	if _, err := uc.GetJob(context.Background(), "patient-1", "zzz"); !domain.IsKind(err, domain.ErrScanJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := uc.GetJob(context.Background(), "", "a"); !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestListJobsNewestFirstWithStatusFilter(t *testing.T) {
	repo := newJobRepoFake()
	seedJobs(repo)
	uc := NewScanQueryUseCase(repo)

	jobs, err := uc.ListJobs(context.Background(), "patient-1", nil, 0)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "b" || jobs[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", jobs)
	}

	status := domain.ScanStatusProcessing
	jobs, err = uc.ListJobs(context.Background(), "patient-1", &status, 10)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "a" {
		t.Fatalf("unexpected filtered jobs: %+v", jobs)
	}
}

func TestClampLimit(t *testing.T) {
	if got := clampLimit(0); got != defaultListLimit {
		t.Fatalf("clampLimit(0) = %d", got)
	}
	if got := clampLimit(1000); got != maxListLimit {
		t.Fatalf("clampLimit(1000) = %d", got)
	}
	if got := clampLimit(7); got != 7 {
		t.Fatalf("clampLimit(7) = %d", got)
	}
}
