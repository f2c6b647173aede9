package httpadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

func sampleTasks() []domain.TaskItem {
	return []domain.TaskItem{
		{ID: "task-1", UserID: "patient-1", Title: "Refill prescription for Amoxicillin", Priority: domain.TaskPriorityHigh, Source: domain.TaskSourceOCR, OriginScanJobID: "job-1", CreatedAt: fixedTime, UpdatedAt: fixedTime},
		{ID: "task-2", UserID: "patient-1", Title: "Call pharmacy", Priority: domain.TaskPriorityMedium, Source: domain.TaskSourceManual, CreatedAt: fixedTime, UpdatedAt: fixedTime},
		{ID: "task-3", UserID: "patient-2", Title: "Other patient", Priority: domain.TaskPriorityLow, Source: domain.TaskSourceManual, CreatedAt: fixedTime, UpdatedAt: fixedTime},
	}
}

func TestListTasksReturnsCallerTasks(t *testing.T) {
	tasks := &fakeTasks{tasks: sampleTasks()}
	handler := newTestHandler(newTestConfig(), nil, nil, tasks)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodGet, "/v1/tasks?source=ocr", "patient-1", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if tasks.gotSource == nil || *tasks.gotSource != domain.TaskSourceOCR {
		t.Fatalf("expected ocr source filter, got %v", tasks.gotSource)
	}

	var payload taskListResponse
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Tasks) != 2 {
		t.Fatalf("expected 2 tasks for patient-1, got %d", len(payload.Tasks))
	}
}

func TestListTasksRejectsUnknownSource(t *testing.T) {
	handler := newTestHandler(newTestConfig(), nil, nil, &fakeTasks{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodGet, "/v1/tasks?source=email", "patient-1", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestCreateTask(t *testing.T) {
	handler := newTestHandler(newTestConfig(), nil, nil, &fakeTasks{})

	res := httptest.NewRecorder()
	body := strings.NewReader(`{"title":"Call pharmacy","priority":"high"}`)
	handler.ServeHTTP(res, newUserRequest(http.MethodPost, "/v1/tasks", "patient-1", body))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	var task domain.TaskItem
	if err := json.Unmarshal(res.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.UserID != "patient-1" || task.Priority != domain.TaskPriorityHigh || task.Source != domain.TaskSourceManual {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	handler := newTestHandler(newTestConfig(), nil, nil, &fakeTasks{})

	for _, body := range []string{`{"title":`, `{"title":""}`} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, newUserRequest(http.MethodPost, "/v1/tasks", "patient-1", strings.NewReader(body)))
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, res.Code)
		}
	}
}

func TestUpdateTaskCompletion(t *testing.T) {
	tasks := &fakeTasks{tasks: sampleTasks()}
	handler := newTestHandler(newTestConfig(), nil, nil, tasks)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodPatch, "/v1/tasks/task-2", "patient-1", strings.NewReader(`{"completed":true}`)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !tasks.tasks[1].Completed {
		t.Fatalf("expected task-2 to be completed")
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodPatch, "/v1/tasks/task-2", "patient-1", strings.NewReader(`{}`)))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing completed expected 400, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodPatch, "/v1/tasks/task-3", "patient-1", strings.NewReader(`{"completed":true}`)))
	if res.Code != http.StatusNotFound {
		t.Fatalf("foreign task expected 404, got %d", res.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	tasks := &fakeTasks{tasks: sampleTasks()}
	handler := newTestHandler(newTestConfig(), nil, nil, tasks)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodDelete, "/v1/tasks/task-1", "patient-1", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(tasks.deleted) != 1 || tasks.deleted[0] != "task-1" {
		t.Fatalf("unexpected deletions %v", tasks.deleted)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodDelete, "/v1/tasks/missing", "patient-1", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestExportTasksServesWorkbook(t *testing.T) {
	tasks := &fakeTasks{exported: []byte("PK\x03\x04")}
	handler := newTestHandler(newTestConfig(), nil, nil, tasks)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newUserRequest(http.MethodGet, "/v1/tasks/export", "patient-1", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != xlsxContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "tasks.xlsx") {
		t.Fatalf("expected attachment filename, got %q", res.Header().Get("Content-Disposition"))
	}
	if res.Body.String() != "PK\x03\x04" {
		t.Fatalf("unexpected body %q", res.Body.String())
	}
}
