package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

// WorkerMetrics implements ports.ScanMetrics on a private registry.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	scanTotal      *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
	scanInFlight   prometheus.Gauge
	queueLag       *prometheus.HistogramVec
	generatedTasks *prometheus.CounterVec
	staleFailed    *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

var breakerStates = []string{"closed", "half-open", "open"}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	scanTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "scan_process_total",
			Help:      "Total advanced scans by outcome and failure kind.",
		},
		[]string{"service", "outcome", "failure_kind"},
	)
	scanDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "scan_process_duration_seconds",
			Help:      "Scan processing duration in seconds by outcome.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	scanInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "scan_process_in_flight",
			Help:      "Number of scans currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between scan submission and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	generatedTasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "generated_tasks_total",
			Help:      "Total to-do items generated from completed scans.",
		},
		[]string{"service"},
	)
	staleFailed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "stale_scans_failed_total",
			Help:      "Total scans failed by the stale job sweeper.",
		},
		[]string{"service"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "worker",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per guarded operation; 1 marks the current state.",
		},
		[]string{"service", "operation", "state"},
	)

	registry.MustRegister(scanTotal, scanDuration, scanInFlight, queueLag, generatedTasks, staleFailed, breakerState)

	return &WorkerMetrics{
		service:        service,
		registry:       registry,
		scanTotal:      scanTotal,
		scanDuration:   scanDuration,
		scanInFlight:   scanInFlight,
		queueLag:       queueLag,
		generatedTasks: generatedTasks,
		staleFailed:    staleFailed,
		breakerState:   breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartScan() {
	m.scanInFlight.Inc()
}

func (m *WorkerMetrics) FinishScan(outcome string, kind domain.FailureKind, duration time.Duration) {
	m.scanInFlight.Dec()

	if outcome == "" {
		outcome = "unknown"
	}
	m.scanTotal.WithLabelValues(m.service, outcome, string(kind)).Inc()
	m.scanDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) AddGeneratedTasks(n int) {
	if n <= 0 {
		return
	}
	m.generatedTasks.WithLabelValues(m.service).Add(float64(n))
}

func (m *WorkerMetrics) AddStaleFailed(n int) {
	if n <= 0 {
		return
	}
	m.staleFailed.WithLabelValues(m.service).Add(float64(n))
}

// SetBreakerState records the current state ("closed", "half-open" or
// "open") of the breaker guarding operation.
func (m *WorkerMetrics) SetBreakerState(operation, state string) {
	for _, candidate := range breakerStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		m.breakerState.WithLabelValues(m.service, operation, candidate).Set(value)
	}
}
