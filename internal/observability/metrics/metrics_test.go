package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestWorkerMetricsFinishScan(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartScan()
	m.FinishScan("failed", domain.FailureTimeout, 2*time.Second)
	m.AddGeneratedTasks(3)
	m.AddGeneratedTasks(0)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`portal_worker_scan_process_total{failure_kind="Timeout",outcome="failed",service="worker"} 1`,
		`portal_worker_scan_process_in_flight{service="worker"} 0`,
		`portal_worker_generated_tasks_total{service="worker"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestWorkerMetricsBreakerState(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.SetBreakerState("ocr.extract", "open")

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`portal_worker_breaker_state{operation="ocr.extract",service="worker",state="open"} 1`,
		`portal_worker_breaker_state{operation="ocr.extract",service="worker",state="closed"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestHTTPMiddlewareNormalizesPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, path := range []string{"/v1/scans/a", "/v1/scans/b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m.Handler())
	want := `portal_http_requests_total{method="GET",path="/v1/scans/{id}",service="api",status="202"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("metrics output missing %q:\n%s", want, body)
	}
}
