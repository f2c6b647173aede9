package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/kirillkom/patient-portal/internal/config"
	"github.com/kirillkom/patient-portal/internal/core/ports"
	"github.com/kirillkom/patient-portal/internal/observability/metrics"
)

const serviceName = "api"

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

type Router struct {
	cfg       config.Config
	submitter ports.ScanSubmitter
	queries   ports.ScanQueryService
	tasks     ports.TaskListService
	metrics   *metrics.HTTPServerMetrics
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	submitter ports.ScanSubmitter,
	queries ports.ScanQueryService,
	tasks ports.TaskListService,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:       cfg,
		submitter: submitter,
		queries:   queries,
		tasks:     tasks,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.json", rt.openAPIDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.Handle("POST /v1/scans", rt.authed(rt.submitScan))
	mux.Handle("GET /v1/scans", rt.authed(rt.listScans))
	mux.Handle("GET /v1/scans/{id}", rt.authed(rt.getScan))
	mux.Handle("POST /v1/scans/{id}/resubmit", rt.authed(rt.resubmitScan))

	mux.Handle("GET /v1/tasks", rt.authed(rt.listTasks))
	mux.Handle("POST /v1/tasks", rt.authed(rt.createTask))
	mux.Handle("GET /v1/tasks/export", rt.authed(rt.exportTasks))
	mux.Handle("PATCH /v1/tasks/{id}", rt.authed(rt.updateTask))
	mux.Handle("DELETE /v1/tasks/{id}", rt.authed(rt.deleteTask))

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) authed(fn http.HandlerFunc) http.Handler {
	return identityMiddleware(fn, rt.cfg.APIKey)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := OpenAPIJSON()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
