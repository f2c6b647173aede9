package httpadapter

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

const idempotencyKeyHeader = "Idempotency-Key"

type scanListResponse struct {
	Jobs []domain.ScanJob `json:"jobs"`
}

func (rt *Router) submitScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+multipartOverhead)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rt.recordSubmission("rejected", 0)
			writeError(w, r, err)
			return
		}
		rt.recordSubmission("rejected", 0)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	job, err := rt.submitter.Submit(r.Context(), ports.SubmitRequest{
		OwnerID:        userIDFromContext(r.Context()),
		FileName:       fileHeader.Filename,
		MimeType:       fileHeader.Header.Get("Content-Type"),
		SizeBytes:      fileHeader.Size,
		Body:           file,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		outcome := "error"
		if mapErrorToHTTPStatus(err) < http.StatusInternalServerError {
			outcome = "rejected"
		}
		rt.recordSubmission(outcome, 0)
		writeError(w, r, err)
		return
	}

	rt.recordSubmission("accepted", job.FileSizeBytes)
	w.Header().Set("Location", "/v1/scans/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) listScans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var status *domain.ScanStatus
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		parsed, err := domain.ParseScanStatus(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status = &parsed
	}

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, domain.WrapError(domain.ErrValidation, "list scans", fmt.Errorf("invalid limit %q", raw)))
			return
		}
		limit = n
	}

	jobs, err := rt.queries.ListJobs(r.Context(), userIDFromContext(r.Context()), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.ScanJob{}
	}
	writeJSON(w, http.StatusOK, scanListResponse{Jobs: jobs})
}

func (rt *Router) getScan(w http.ResponseWriter, r *http.Request) {
	job, err := rt.queries.GetJob(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) resubmitScan(w http.ResponseWriter, r *http.Request) {
	job, err := rt.submitter.Resubmit(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/scans/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) recordSubmission(outcome string, sizeBytes int64) {
	if rt.metrics != nil {
		rt.metrics.RecordSubmission(serviceName, outcome, sizeBytes)
	}
}
