package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// NormalizePriority falls back to medium for empty or unknown values.
func NormalizePriority(raw string) TaskPriority {
	switch TaskPriority(strings.ToLower(strings.TrimSpace(raw))) {
	case TaskPriorityHigh:
		return TaskPriorityHigh
	case TaskPriorityLow:
		return TaskPriorityLow
	default:
		return TaskPriorityMedium
	}
}

type TaskSource string

const (
	TaskSourceManual    TaskSource = "manual"
	TaskSourceOCR       TaskSource = "ocr"
	TaskSourceGenerated TaskSource = "generated"
)

func ParseTaskSource(raw string) (TaskSource, error) {
	switch TaskSource(raw) {
	case TaskSourceManual, TaskSourceOCR, TaskSourceGenerated:
		return TaskSource(raw), nil
	default:
		return "", WrapError(ErrValidation, "parse task source", fmt.Errorf("unknown source %q", raw))
	}
}

type TaskItem struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	Title           string       `json:"title"`
	Priority        TaskPriority `json:"priority"`
	Completed       bool         `json:"completed"`
	Source          TaskSource   `json:"source"`
	OriginScanJobID string       `json:"origin_scan_job_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
}

// Validate enforces provenance: only ocr items point at a scan job.
func (t TaskItem) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is empty")
	}
	switch t.Source {
	case TaskSourceOCR:
		if t.OriginScanJobID == "" {
			return fmt.Errorf("ocr task requires origin scan job id")
		}
	case TaskSourceManual, TaskSourceGenerated:
		if t.OriginScanJobID != "" {
			return fmt.Errorf("%s task must not reference a scan job", t.Source)
		}
	default:
		return fmt.Errorf("unknown task source %q", t.Source)
	}
	return nil
}

// TaskDraft is a candidate produced by a derivation policy before the
// generator stamps provenance on it.
type TaskDraft struct {
	Title    string
	Priority TaskPriority
}

type TaskFilter struct {
	UserID         string
	Source         *TaskSource
	IncludeDeleted bool
}
