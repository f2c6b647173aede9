package ports

import (
	"context"
	"io"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

// SubmitRequest carries an upload as received from the transport. The owner
// identity has already been authenticated upstream.
type SubmitRequest struct {
	OwnerID        string
	FileName       string
	MimeType       string
	SizeBytes      int64
	Body           io.Reader
	IdempotencyKey string
}

// ScanSubmitter is the inbound contract for creating scan jobs.
type ScanSubmitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*domain.ScanJob, error)
	Resubmit(ctx context.Context, ownerID, jobID string) (*domain.ScanJob, error)
}

// ScanAdvancer drives a created job to a terminal state.
type ScanAdvancer interface {
	Advance(ctx context.Context, jobID string) error
}

// ScanQueryService is the read model for scan job state.
type ScanQueryService interface {
	GetJob(ctx context.Context, ownerID, jobID string) (*domain.ScanJob, error)
	ListJobs(ctx context.Context, ownerID string, status *domain.ScanStatus, limit int) ([]domain.ScanJob, error)
}

// TaskListService manages the patient's to-do list.
type TaskListService interface {
	CreateManual(ctx context.Context, userID, title, priority string) (*domain.TaskItem, error)
	List(ctx context.Context, userID string, source *domain.TaskSource) ([]domain.TaskItem, error)
	SetCompleted(ctx context.Context, userID, taskID string, completed bool) (*domain.TaskItem, error)
	Delete(ctx context.Context, userID, taskID string) error
	ExportXLSX(ctx context.Context, userID string) ([]byte, error)
}
