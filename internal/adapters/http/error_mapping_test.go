package httpadapter

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	cause := errors.New("cause")
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "max bytes", err: &http.MaxBytesError{Limit: 10}, want: http.StatusRequestEntityTooLarge},
		{name: "validation", err: domain.WrapError(domain.ErrValidation, "op", cause), want: http.StatusBadRequest},
		{name: "unauthorized", err: domain.WrapError(domain.ErrUnauthorized, "op", cause), want: http.StatusUnauthorized},
		{name: "scan not found", err: domain.WrapError(domain.ErrScanJobNotFound, "op", cause), want: http.StatusNotFound},
		{name: "task not found", err: domain.WrapError(domain.ErrTaskNotFound, "op", cause), want: http.StatusNotFound},
		{name: "conflict", err: domain.WrapError(domain.ErrConflict, "op", cause), want: http.StatusConflict},
		{name: "already resolved", err: domain.WrapError(domain.ErrAlreadyResolved, "op", cause), want: http.StatusConflict},
		{name: "temporary", err: domain.WrapError(domain.ErrTemporary, "op", cause), want: http.StatusServiceUnavailable},
		{name: "unknown", err: cause, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	queries := &fakeQueries{err: errors.New("pq: connection refused to 10.0.0.5")}
	handler := newTestHandler(newTestConfig(), nil, queries, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodGet, "/v1/scans", "patient-1", nil))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.5") {
		t.Fatalf("internal error leaked to client: %s", res.Body.String())
	}
}
