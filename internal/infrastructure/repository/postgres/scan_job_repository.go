package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

type ScanJobRepository struct {
	db *sql.DB
}

func NewScanJobRepository(db *sql.DB) *ScanJobRepository {
	return &ScanJobRepository{db: db}
}

const scanJobColumns = `id, owner_id, file_name, file_size_bytes, mime_type, storage_key, status, submitted_at, completed_at,
	extracted_text, confidence, document_type, failure_kind, failure_message, resubmitted_from`

func (r *ScanJobRepository) Create(ctx context.Context, job *domain.ScanJob) error {
	if job.Status != domain.ScanStatusProcessing {
		return domain.WrapError(domain.ErrValidation, "create scan job", fmt.Errorf("new job must be processing, got %s", job.Status))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scan_jobs (
	id, owner_id, file_name, file_size_bytes, mime_type, storage_key, status, submitted_at, resubmitted_from
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		job.ID, job.OwnerID, job.FileName, job.FileSizeBytes, job.MimeType, job.StorageKey,
		string(job.Status), job.SubmittedAt, nullableString(job.ResubmittedFrom),
	)
	if err != nil {
		return fmt.Errorf("insert scan job: %w", err)
	}
	return nil
}

func (r *ScanJobRepository) GetByID(ctx context.Context, id string) (*domain.ScanJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+scanJobColumns+`
FROM scan_jobs
WHERE id = $1
`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrScanJobNotFound, "get scan job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan scan job: %w", err)
	}
	return &job, nil
}

func (r *ScanJobRepository) List(ctx context.Context, filter domain.ScanJobFilter) ([]domain.ScanJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT " + scanJobColumns + "\nFROM scan_jobs\n"
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY submitted_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	return r.queryJobs(ctx, query, args...)
}

// Complete and Fail only match rows still processing. A miss is resolved into
// not-found or already-resolved so callers can discard late writes.
func (r *ScanJobRepository) Complete(ctx context.Context, id string, result domain.ScanResult, completedAt time.Time) error {
	candidate := domain.ScanJob{Status: domain.ScanStatusCompleted, Result: &result, CompletedAt: &completedAt}
	if err := candidate.Validate(); err != nil {
		return domain.WrapError(domain.ErrValidation, "complete scan job", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE scan_jobs
SET status = 'completed', extracted_text = $2, confidence = $3, document_type = $4, completed_at = $5
WHERE id = $1 AND status = 'processing'
`, id, result.ExtractedText, result.Confidence, nullableString(result.DocumentType), completedAt)
	if err != nil {
		return fmt.Errorf("complete scan job: %w", err)
	}
	return r.checkTransition(ctx, res, id, "complete scan job")
}

func (r *ScanJobRepository) Fail(ctx context.Context, id string, reason domain.FailureReason, completedAt time.Time) error {
	candidate := domain.ScanJob{Status: domain.ScanStatusFailed, FailureReason: &reason, CompletedAt: &completedAt}
	if err := candidate.Validate(); err != nil {
		return domain.WrapError(domain.ErrValidation, "fail scan job", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE scan_jobs
SET status = 'failed', failure_kind = $2, failure_message = $3, completed_at = $4
WHERE id = $1 AND status = 'processing'
`, id, string(reason.Kind), reason.Message, completedAt)
	if err != nil {
		return fmt.Errorf("fail scan job: %w", err)
	}
	return r.checkTransition(ctx, res, id, "fail scan job")
}

func (r *ScanJobRepository) ListStale(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.ScanJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryJobs(ctx, `
SELECT `+scanJobColumns+`
FROM scan_jobs
WHERE status = 'processing' AND submitted_at < $1
ORDER BY submitted_at ASC
LIMIT $2
`, submittedBefore, limit)
}

func (r *ScanJobRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count scan jobs: %w", err)
	}
	return count, nil
}

func (r *ScanJobRepository) checkTransition(ctx context.Context, res sql.Result, id, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM scan_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrScanJobNotFound, op, fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("%s lookup status: %w", op, err)
	}
	return domain.WrapError(domain.ErrAlreadyResolved, op, fmt.Errorf("id=%s status=%s", id, status))
}

func (r *ScanJobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]domain.ScanJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scan jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScanJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.ScanJob, error) {
	var (
		job             domain.ScanJob
		status          string
		completedAt     sql.NullTime
		extractedText   sql.NullString
		confidence      sql.NullFloat64
		documentType    sql.NullString
		failureKind     sql.NullString
		failureMessage  sql.NullString
		resubmittedFrom sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.FileName,
		&job.FileSizeBytes,
		&job.MimeType,
		&job.StorageKey,
		&status,
		&job.SubmittedAt,
		&completedAt,
		&extractedText,
		&confidence,
		&documentType,
		&failureKind,
		&failureMessage,
		&resubmittedFrom,
	)
	if err != nil {
		return domain.ScanJob{}, err
	}

	job.Status = domain.ScanStatus(status)
	job.ResubmittedFrom = resubmittedFrom.String
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	switch job.Status {
	case domain.ScanStatusCompleted:
		job.Result = &domain.ScanResult{
			ExtractedText: extractedText.String,
			Confidence:    confidence.Float64,
			DocumentType:  documentType.String,
		}
	case domain.ScanStatusFailed:
		job.FailureReason = &domain.FailureReason{
			Kind:    domain.ParseFailureKind(failureKind.String),
			Message: failureMessage.String,
		}
	}
	return job, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
