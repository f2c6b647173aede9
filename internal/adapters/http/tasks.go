package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type taskListResponse struct {
	Tasks []domain.TaskItem `json:"tasks"`
}

type createTaskRequest struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

type updateTaskRequest struct {
	Completed *bool `json:"completed"`
}

func (rt *Router) listTasks(w http.ResponseWriter, r *http.Request) {
	var source *domain.TaskSource
	if raw := strings.TrimSpace(r.URL.Query().Get("source")); raw != "" {
		parsed, err := domain.ParseTaskSource(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		source = &parsed
	}

	tasks, err := rt.tasks.List(r.Context(), userIDFromContext(r.Context()), source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []domain.TaskItem{}
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks})
}

func (rt *Router) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	task, err := rt.tasks.CreateManual(r.Context(), userIDFromContext(r.Context()), req.Title, req.Priority)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (rt *Router) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Completed == nil {
		writeError(w, r, domain.WrapError(domain.ErrValidation, "update task", errors.New("completed is required")))
		return
	}

	task, err := rt.tasks.SetCompleted(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"), *req.Completed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (rt *Router) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := rt.tasks.Delete(r.Context(), userIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) exportTasks(w http.ResponseWriter, r *http.Request) {
	raw, err := rt.tasks.ExportXLSX(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordTaskExport(serviceName, "xlsx")
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="tasks.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
