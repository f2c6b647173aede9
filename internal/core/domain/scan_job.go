package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type ScanStatus string

const (
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

func ParseScanStatus(raw string) (ScanStatus, error) {
	switch ScanStatus(raw) {
	case ScanStatusProcessing, ScanStatusCompleted, ScanStatusFailed:
		return ScanStatus(raw), nil
	default:
		return "", WrapError(ErrValidation, "parse scan status", fmt.Errorf("unknown status %q", raw))
	}
}

type FailureKind string

const (
	FailureUnreadableInput  FailureKind = "UnreadableInput"
	FailureTimeout          FailureKind = "Timeout"
	FailureCapacityExceeded FailureKind = "CapacityExceeded"
	FailureUnknown          FailureKind = "Unknown"
)

func ParseFailureKind(raw string) FailureKind {
	switch FailureKind(raw) {
	case FailureUnreadableInput, FailureTimeout, FailureCapacityExceeded:
		return FailureKind(raw)
	default:
		return FailureUnknown
	}
}

// UserMessage is the text shown to the patient for a failed scan.
func (k FailureKind) UserMessage() string {
	switch k {
	case FailureUnreadableInput:
		return "The document could not be read. Please scan it again with a clearer image."
	case FailureTimeout:
		return "Processing took too long. You can submit the document again."
	case FailureCapacityExceeded:
		return "The scanner is busy right now. Please try again later."
	default:
		return "Something went wrong while processing the document."
	}
}

type ScanResult struct {
	ExtractedText string  `json:"extracted_text"`
	Confidence    float64 `json:"confidence"`
	DocumentType  string  `json:"document_type,omitempty"`
}

func (r ScanResult) Validate() error {
	// NaN compares false against both bounds.
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) || r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %v outside [0,100]", r.Confidence)
	}
	return nil
}

type FailureReason struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func NewFailureReason(kind FailureKind) FailureReason {
	return FailureReason{Kind: kind, Message: kind.UserMessage()}
}

type ScanJob struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	FileName        string         `json:"file_name"`
	FileSizeBytes   int64          `json:"file_size_bytes"`
	MimeType        string         `json:"mime_type"`
	StorageKey      string         `json:"-"`
	Status          ScanStatus     `json:"status"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Result          *ScanResult    `json:"result,omitempty"`
	FailureReason   *FailureReason `json:"failure_reason,omitempty"`
	ResubmittedFrom string         `json:"resubmitted_from,omitempty"`
}

// Validate checks the lifecycle invariant: result and failure reason are
// mutually exclusive and only present once the job left processing.
func (j ScanJob) Validate() error {
	switch j.Status {
	case ScanStatusProcessing:
		if j.Result != nil || j.FailureReason != nil || j.CompletedAt != nil {
			return errors.New("processing job must not carry a result, failure reason or completion time")
		}
	case ScanStatusCompleted:
		if j.Result == nil || j.FailureReason != nil {
			return errors.New("completed job requires a result and no failure reason")
		}
		if j.CompletedAt == nil {
			return errors.New("completed job requires completed_at")
		}
		if err := j.Result.Validate(); err != nil {
			return err
		}
	case ScanStatusFailed:
		if j.FailureReason == nil || j.Result != nil {
			return errors.New("failed job requires a failure reason and no result")
		}
		if j.CompletedAt == nil {
			return errors.New("failed job requires completed_at")
		}
	default:
		return fmt.Errorf("unknown status %q", j.Status)
	}
	return nil
}

type ScanJobFilter struct {
	OwnerID string
	Status  *ScanStatus
	Limit   int
}

// ScanResolvedEvent announces a terminal transition. It never carries
// extracted document content.
type ScanResolvedEvent struct {
	JobID        string      `json:"job_id"`
	OwnerID      string      `json:"owner_id"`
	Status       ScanStatus  `json:"status"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	DocumentType string      `json:"document_type,omitempty"`
	ResolvedAt   time.Time   `json:"resolved_at"`
}

func NewScanResolvedEvent(job ScanJob) ScanResolvedEvent {
	event := ScanResolvedEvent{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Status:  job.Status,
	}
	if job.CompletedAt != nil {
		event.ResolvedAt = *job.CompletedAt
	}
	if job.Result != nil {
		event.DocumentType = job.Result.DocumentType
	}
	if job.FailureReason != nil {
		event.FailureKind = job.FailureReason.Kind
	}
	return event
}
