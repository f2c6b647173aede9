package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

// ScanJobRepository persists scan job lifecycle state. Complete and Fail are
// compare-and-set writes: they only apply while the job is still processing
// and return domain.ErrAlreadyResolved otherwise.
type ScanJobRepository interface {
	Create(ctx context.Context, job *domain.ScanJob) error
	GetByID(ctx context.Context, id string) (*domain.ScanJob, error)
	List(ctx context.Context, filter domain.ScanJobFilter) ([]domain.ScanJob, error)
	Complete(ctx context.Context, id string, result domain.ScanResult, completedAt time.Time) error
	Fail(ctx context.Context, id string, reason domain.FailureReason, completedAt time.Time) error
	ListStale(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.ScanJob, error)
	Count(ctx context.Context) (int, error)
}

// TaskStore persists to-do items shared by manual and generated sources.
type TaskStore interface {
	CreateTasks(ctx context.Context, tasks []domain.TaskItem) error
	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.TaskItem, error)
	GetTaskByID(ctx context.Context, userID, taskID string) (*domain.TaskItem, error)
	SetCompleted(ctx context.Context, userID, taskID string, completed bool, updatedAt time.Time) error
	SoftDeleteTask(ctx context.Context, userID, taskID string) error
}

// ObjectStorage stores submitted document bytes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes scan pipeline events.
type MessageQueue interface {
	PublishScanSubmitted(ctx context.Context, jobID string) error
	SubscribeScanSubmitted(ctx context.Context, handler func(context.Context, string) error) error
	PublishScanResolved(ctx context.Context, event domain.ScanResolvedEvent) error
}

// DocumentProcessor turns raw document bytes into extracted content. Errors
// should be *domain.ProcessError; anything else is treated as Unknown.
// Implementations must be safe for concurrent use.
type DocumentProcessor interface {
	Process(ctx context.Context, content []byte, mimeType string) (domain.ScanResult, error)
}

// TaskDerivationPolicy proposes to-do items for a completed scan.
type TaskDerivationPolicy interface {
	Derive(ctx context.Context, job domain.ScanJob) ([]domain.TaskDraft, error)
}

// TaskExporter renders a task list into a downloadable document.
type TaskExporter interface {
	ExportTasks(ctx context.Context, tasks []domain.TaskItem) ([]byte, error)
}

// IdempotencyIndex maps a caller supplied key to the job it created.
// Reserve claims the key for jobID atomically. When another job already
// holds a live claim it returns that job id and reserved=false.
type IdempotencyIndex interface {
	Reserve(ctx context.Context, ownerID, key, jobID string) (existingID string, reserved bool, err error)
	// Release drops the claim if jobID still holds it.
	Release(ctx context.Context, ownerID, key, jobID string) error
}

// ScanMetrics observes pipeline execution.
type ScanMetrics interface {
	StartScan()
	FinishScan(outcome string, kind domain.FailureKind, duration time.Duration)
	ObserveQueueLag(lag time.Duration)
	AddGeneratedTasks(n int)
	AddStaleFailed(n int)
}
