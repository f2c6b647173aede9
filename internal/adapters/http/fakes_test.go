package httpadapter

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

var fixedTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []ports.SubmitRequest
	bodies   [][]byte
	err      error

	resubmitErr   error
	resubmitOwner string
	resubmitID    string
}

func (f *fakeSubmitter) Submit(_ context.Context, req ports.SubmitRequest) (*domain.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(req.Body)
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ScanJob{
		ID:            "job-1",
		OwnerID:       req.OwnerID,
		FileName:      req.FileName,
		FileSizeBytes: int64(len(body)),
		MimeType:      req.MimeType,
		Status:        domain.ScanStatusProcessing,
		SubmittedAt:   fixedTime,
	}, nil
}

func (f *fakeSubmitter) Resubmit(_ context.Context, ownerID, jobID string) (*domain.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resubmitOwner = ownerID
	f.resubmitID = jobID
	if f.resubmitErr != nil {
		return nil, f.resubmitErr
	}
	return &domain.ScanJob{
		ID:              "job-2",
		OwnerID:         ownerID,
		FileName:        "scan.png",
		FileSizeBytes:   3,
		MimeType:        "image/png",
		Status:          domain.ScanStatusProcessing,
		SubmittedAt:     fixedTime,
		ResubmittedFrom: jobID,
	}, nil
}

type fakeQueries struct {
	jobs []domain.ScanJob
	err  error

	gotOwner  string
	gotStatus *domain.ScanStatus
	gotLimit  int
}

func (f *fakeQueries) GetJob(_ context.Context, ownerID, jobID string) (*domain.ScanJob, error) {
	f.gotOwner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.jobs {
		if f.jobs[i].ID == jobID && f.jobs[i].OwnerID == ownerID {
			job := f.jobs[i]
			return &job, nil
		}
	}
	return nil, domain.WrapError(domain.ErrScanJobNotFound, "get scan job", io.EOF)
}

func (f *fakeQueries) ListJobs(_ context.Context, ownerID string, status *domain.ScanStatus, limit int) ([]domain.ScanJob, error) {
	f.gotOwner = ownerID
	f.gotStatus = status
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ScanJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		if job.OwnerID == ownerID {
			out = append(out, job)
		}
	}
	return out, nil
}

type fakeTasks struct {
	tasks     []domain.TaskItem
	err       error
	gotSource *domain.TaskSource
	deleted   []string
	exported  []byte
}

func (f *fakeTasks) CreateManual(_ context.Context, userID, title, priority string) (*domain.TaskItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	if title == "" {
		return nil, domain.WrapError(domain.ErrValidation, "create task", io.ErrUnexpectedEOF)
	}
	return &domain.TaskItem{
		ID:        "task-new",
		UserID:    userID,
		Title:     title,
		Priority:  domain.NormalizePriority(priority),
		Source:    domain.TaskSourceManual,
		CreatedAt: fixedTime,
		UpdatedAt: fixedTime,
	}, nil
}

func (f *fakeTasks) List(_ context.Context, userID string, source *domain.TaskSource) ([]domain.TaskItem, error) {
	f.gotSource = source
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.TaskItem, 0, len(f.tasks))
	for _, task := range f.tasks {
		if task.UserID == userID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTasks) SetCompleted(_ context.Context, userID, taskID string, completed bool) (*domain.TaskItem, error) {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID && f.tasks[i].UserID == userID {
			f.tasks[i].Completed = completed
			task := f.tasks[i]
			return &task, nil
		}
	}
	return nil, domain.WrapError(domain.ErrTaskNotFound, "set completed", io.EOF)
}

func (f *fakeTasks) Delete(_ context.Context, userID, taskID string) error {
	for _, task := range f.tasks {
		if task.ID == taskID && task.UserID == userID {
			f.deleted = append(f.deleted, taskID)
			return nil
		}
	}
	return domain.WrapError(domain.ErrTaskNotFound, "delete task", io.EOF)
}

func (f *fakeTasks) ExportXLSX(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.exported, nil
}
