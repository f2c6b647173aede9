// Package mcpadapter exposes read access to scans and the task list as MCP
// tools so assistants can answer questions about a patient's documents.
// A server is bound to one patient when it starts; tools never take an
// identity from the caller.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/core/ports"
)

const (
	serverName    = "patient-portal"
	serverVersion = "1.0.0"

	defaultListLimit = 20
)

type Server struct {
	userID  string
	queries ports.ScanQueryService
	tasks   ports.TaskListService
	logger  *slog.Logger
}

func New(userID string, queries ports.ScanQueryService, tasks ports.TaskListService, logger *slog.Logger) (*Server, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "new mcp server", errors.New("patient identity is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{userID: userID, queries: queries, tasks: tasks, logger: logger}, nil
}

// MCPServer builds the tool registry.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("get_scan_job",
		mcp.WithDescription("Get the state of one scan job, including extracted text once completed."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Scan job identifier")),
	), s.getScanJob)

	srv.AddTool(mcp.NewTool("list_scan_jobs",
		mcp.WithDescription("List the patient's scan jobs, newest first."),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("processing", "completed", "failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of jobs to return")),
	), s.listScanJobs)

	srv.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List the patient's active tasks."),
		mcp.WithString("source", mcp.Description("Filter by origin"), mcp.Enum("manual", "ocr", "generated")),
	), s.listTasks)

	return srv
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.MCPServer())
}

func (s *Server) getScanJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := s.queries.GetJob(ctx, s.userID, jobID)
	if err != nil {
		return s.toolError("get_scan_job", err), nil
	}
	return jsonResult(job)
}

func (s *Server) listScanJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status *domain.ScanStatus
	if raw := req.GetString("status", ""); raw != "" {
		parsed, err := domain.ParseScanStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		status = &parsed
	}
	limit := req.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}

	jobs, err := s.queries.ListJobs(ctx, s.userID, status, limit)
	if err != nil {
		return s.toolError("list_scan_jobs", err), nil
	}
	if jobs == nil {
		jobs = []domain.ScanJob{}
	}
	return jsonResult(map[string]any{"jobs": jobs})
}

func (s *Server) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var source *domain.TaskSource
	if raw := req.GetString("source", ""); raw != "" {
		parsed, err := domain.ParseTaskSource(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		source = &parsed
	}

	tasks, err := s.tasks.List(ctx, s.userID, source)
	if err != nil {
		return s.toolError("list_tasks", err), nil
	}
	if tasks == nil {
		tasks = []domain.TaskItem{}
	}
	return jsonResult(map[string]any{"tasks": tasks})
}

// toolError reports caller mistakes verbatim and hides everything else.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrValidation),
		domain.IsKind(err, domain.ErrScanJobNotFound),
		domain.IsKind(err, domain.ErrTaskNotFound):
		return mcp.NewToolResultError(err.Error())
	default:
		s.logger.Error("mcp tool failed", "tool", tool, "error", err)
		return mcp.NewToolResultError("internal error")
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
