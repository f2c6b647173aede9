package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

type fakeQueries struct {
	jobs      []domain.ScanJob
	err       error
	gotStatus *domain.ScanStatus
	gotLimit  int
}

func (f *fakeQueries) GetJob(_ context.Context, ownerID, jobID string) (*domain.ScanJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, job := range f.jobs {
		if job.ID == jobID && job.OwnerID == ownerID {
			return &job, nil
		}
	}
	return nil, domain.WrapError(domain.ErrScanJobNotFound, "get scan job", errors.New(jobID))
}

func (f *fakeQueries) ListJobs(_ context.Context, ownerID string, status *domain.ScanStatus, limit int) ([]domain.ScanJob, error) {
	f.gotStatus = status
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ScanJob
	for _, job := range f.jobs {
		if job.OwnerID == ownerID {
			out = append(out, job)
		}
	}
	return out, nil
}

type fakeTasks struct {
	tasks []domain.TaskItem
}

func (f *fakeTasks) CreateManual(context.Context, string, string, string) (*domain.TaskItem, error) {
	return nil, errors.New("not used")
}

func (f *fakeTasks) List(_ context.Context, userID string, source *domain.TaskSource) ([]domain.TaskItem, error) {
	var out []domain.TaskItem
	for _, task := range f.tasks {
		if task.UserID == userID && (source == nil || task.Source == *source) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTasks) SetCompleted(context.Context, string, string, bool) (*domain.TaskItem, error) {
	return nil, errors.New("not used")
}

func (f *fakeTasks) Delete(context.Context, string, string) error { return errors.New("not used") }

func (f *fakeTasks) ExportXLSX(context.Context, string) ([]byte, error) {
	return nil, errors.New("not used")
}

func newTestServer(t *testing.T, userID string, queries *fakeQueries, tasks *fakeTasks) *Server {
	t.Helper()
	srv, err := New(userID, queries, tasks, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

func TestGetScanJobTool(t *testing.T) {
	queries := &fakeQueries{jobs: []domain.ScanJob{{
		ID: "job-1", OwnerID: "patient-1", FileName: "rx.png", MimeType: "image/png",
		Status: domain.ScanStatusProcessing, SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	srv := newTestServer(t, "patient-1", queries, &fakeTasks{})

	result, err := srv.getScanJob(context.Background(), callRequest("get_scan_job", map[string]any{"job_id": "job-1"}))
	if err != nil {
		t.Fatalf("getScanJob() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	var job domain.ScanJob
	if err := json.Unmarshal([]byte(resultText(t, result)), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != "job-1" || job.Status != domain.ScanStatusProcessing {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestGetScanJobToolErrors(t *testing.T) {
	queries := &fakeQueries{}
	srv := newTestServer(t, "patient-1", queries, &fakeTasks{})

	result, err := srv.getScanJob(context.Background(), callRequest("get_scan_job", map[string]any{}))
	if err != nil || !result.IsError {
		t.Fatalf("missing job_id must be a tool error, err=%v", err)
	}

	result, _ = srv.getScanJob(context.Background(), callRequest("get_scan_job", map[string]any{"job_id": "job-1"}))
	if !result.IsError || !strings.Contains(resultText(t, result), "not found") {
		t.Fatalf("expected not found tool error")
	}

	queries.err = errors.New("dial tcp 10.1.1.1:5432: refused")
	result, _ = srv.getScanJob(context.Background(), callRequest("get_scan_job", map[string]any{"job_id": "job-1"}))
	if !result.IsError || strings.Contains(resultText(t, result), "10.1.1.1") {
		t.Fatalf("internal errors must be hidden, got %q", resultText(t, result))
	}
}

func TestListScanJobsToolAppliesFilters(t *testing.T) {
	queries := &fakeQueries{}
	srv := newTestServer(t, "patient-1", queries, &fakeTasks{})

	result, err := srv.listScanJobs(context.Background(), callRequest("list_scan_jobs", map[string]any{
		"status":  "failed",
		"limit":   float64(3),
	}))
	if err != nil || result.IsError {
		t.Fatalf("listScanJobs() err=%v result=%+v", err, result)
	}
	if queries.gotStatus == nil || *queries.gotStatus != domain.ScanStatusFailed || queries.gotLimit != 3 {
		t.Fatalf("filters not forwarded: status=%v limit=%d", queries.gotStatus, queries.gotLimit)
	}
	if got := resultText(t, result); got != `{"jobs":[]}` {
		t.Fatalf("unexpected payload %s", got)
	}

	result, _ = srv.listScanJobs(context.Background(), callRequest("list_scan_jobs", map[string]any{"status": "queued"}))
	if !result.IsError {
		t.Fatalf("unknown status must be a tool error")
	}
}

func TestListTasksTool(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.TaskItem{
		{ID: "t1", UserID: "patient-1", Title: "Book follow-up appointment", Source: domain.TaskSourceOCR, OriginScanJobID: "job-1"},
		{ID: "t2", UserID: "patient-1", Title: "Call pharmacy", Source: domain.TaskSourceManual},
	}}
	srv := newTestServer(t, "patient-1", &fakeQueries{}, tasks)

	result, err := srv.listTasks(context.Background(), callRequest("list_tasks", map[string]any{"source": "ocr"}))
	if err != nil || result.IsError {
		t.Fatalf("listTasks() err=%v", err)
	}
	var payload struct {
		Tasks []domain.TaskItem `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Tasks) != 1 || payload.Tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks %+v", payload.Tasks)
	}
}

func TestMCPServerListsTools(t *testing.T) {
	srv := newTestServer(t, "patient-1", &fakeQueries{}, &fakeTasks{}).MCPServer()

	resp := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{"get_scan_job", "list_scan_jobs", "list_tasks"} {
		if !strings.Contains(string(raw), `"`+name+`"`) {
			t.Fatalf("tool %s not listed in %s", name, raw)
		}
	}
}

func TestServerIsBoundToOnePatient(t *testing.T) {
	queries := &fakeQueries{jobs: []domain.ScanJob{{
		ID: "job-9", OwnerID: "patient-2", FileName: "lab.pdf", MimeType: "application/pdf",
		Status: domain.ScanStatusCompleted,
	}}}
	srv := newTestServer(t, "patient-1", queries, &fakeTasks{})

	result, _ := srv.getScanJob(context.Background(), callRequest("get_scan_job", map[string]any{
		"user_id": "patient-2",
		"job_id":  "job-9",
	}))
	if !result.IsError {
		t.Fatalf("another patient's job must not be readable: %s", resultText(t, result))
	}

	if _, err := New("  ", queries, &fakeTasks{}, nil); !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without identity, got %v", err)
	}
}

func TestToolsDoNotAcceptIdentity(t *testing.T) {
	srv := newTestServer(t, "patient-1", &fakeQueries{}, &fakeTasks{}).MCPServer()

	resp := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	if strings.Contains(string(raw), "user_id") {
		t.Fatalf("tool schemas must not expose user_id: %s", raw)
	}
}
