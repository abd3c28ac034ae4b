package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	tasksQueueDepth     prometheus.Gauge
	tasksQueueCapacity  prometheus.Gauge
	tasksStartedTotal   *prometheus.CounterVec
	tasksCompletedTotal *prometheus.CounterVec
	tasksDurationMs     *prometheus.HistogramVec
	tasksRetriedTotal   *prometheus.CounterVec

	runsStartedTotal   *prometheus.CounterVec
	runsFinishedTotal  *prometheus.CounterVec
	recordsTotal       *prometheus.CounterVec
	chunksAppliedTotal prometheus.Counter

	remoteCallsTotal     *prometheus.CounterVec
	remoteCallDurationMs *prometheus.HistogramVec

	schedulerDispatchedTotal *prometheus.CounterVec

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurationMs *prometheus.HistogramVec

	eventsConnections prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.tasksQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_queue_depth",
		Help: "Current depth of the in-memory task queue.",
	})
	m.tasksQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_queue_capacity",
		Help: "Configured capacity of the in-memory task queue.",
	})
	m.tasksStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_started_total",
		Help: "Total number of task attempts started.",
	}, []string{"name"})
	m.tasksCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_completed_total",
		Help: "Total number of task attempts completed.",
	}, []string{"name", "status", "error_code"})
	m.tasksDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tasks_duration_ms",
		Help:    "Task attempt duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 16),
	}, []string{"name", "status"})
	m.tasksRetriedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_retried_total",
		Help: "Total number of task retries scheduled.",
	}, []string{"name"})

	m.runsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_started_total",
		Help: "Total number of sync runs started.",
	}, []string{"kind"})
	m.runsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_finished_total",
		Help: "Total number of sync runs that reached a terminal status.",
	}, []string{"kind", "status"})
	m.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_records_total",
		Help: "Total number of records processed by outcome.",
	}, []string{"kind", "outcome"})
	m.chunksAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_chunks_applied_total",
		Help: "Total number of chunk results applied to runs.",
	})

	m.remoteCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_calls_total",
		Help: "Total number of calls to remote commerce systems.",
	}, []string{"transport", "op", "code"})
	m.remoteCallDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_call_duration_ms",
		Help:    "Remote call duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{"transport", "op"})

	m.schedulerDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_dispatched_total",
		Help: "Total number of tasks dispatched by the scheduler.",
	}, []string{"task"})

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	m.httpRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"method", "route"})

	m.eventsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "events_connections",
		Help: "Number of active realtime connections.",
	})

	reg.MustRegister(
		m.tasksQueueDepth,
		m.tasksQueueCapacity,
		m.tasksStartedTotal,
		m.tasksCompletedTotal,
		m.tasksDurationMs,
		m.tasksRetriedTotal,
		m.runsStartedTotal,
		m.runsFinishedTotal,
		m.recordsTotal,
		m.chunksAppliedTotal,
		m.remoteCallsTotal,
		m.remoteCallDurationMs,
		m.schedulerDispatchedTotal,
		m.httpRequestsTotal,
		m.httpRequestDurationMs,
		m.eventsConnections,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}


func (m *Metrics) SetTasksQueueDepth(depth int) {
	if m == nil {
		return
	}
	if depth < 0 {
		depth = 0
	}
	m.tasksQueueDepth.Set(float64(depth))
}

func (m *Metrics) SetTasksQueueCapacity(capacity int) {
	if m == nil {
		return
	}
	if capacity < 0 {
		capacity = 0
	}
	m.tasksQueueCapacity.Set(float64(capacity))
}

func (m *Metrics) IncTasksStarted(name string) {
	if m == nil {
		return
	}
	m.tasksStartedTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) IncTasksCompleted(name, status string, errorCode *string) {
	if m == nil {
		return
	}
	m.tasksCompletedTotal.WithLabelValues(name, status, normalizeErrorCode(status, errorCode)).Inc()
}

func (m *Metrics) ObserveTaskDuration(name, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksDurationMs.WithLabelValues(name, status).Observe(millis(duration))
}

func (m *Metrics) IncTasksRetried(name string) {
	if m == nil {
		return
	}
	m.tasksRetriedTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) IncRunsStarted(kind string) {
	if m == nil {
		return
	}
	m.runsStartedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRunsFinished(kind, status string) {
	if m == nil {
		return
	}
	m.runsFinishedTotal.WithLabelValues(kind, status).Inc()
}

// AddRecords counts records of a run kind by outcome (success, failure, skipped).
func (m *Metrics) AddRecords(kind, outcome string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(kind, outcome).Add(float64(n))
}

func (m *Metrics) IncChunksApplied() {
	if m == nil {
		return
	}
	m.chunksAppliedTotal.Inc()
}

func (m *Metrics) ObserveRemoteCall(transport, op, code string, duration time.Duration) {
	if m == nil {
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = "ok"
	}
	m.remoteCallsTotal.WithLabelValues(transport, op, code).Inc()
	m.remoteCallDurationMs.WithLabelValues(transport, op).Observe(millis(duration))
}

func (m *Metrics) IncSchedulerDispatched(task string) {
	if m == nil {
		return
	}
	m.schedulerDispatchedTotal.WithLabelValues(task).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, statusLabel).Inc()
	m.httpRequestDurationMs.WithLabelValues(method, route).Observe(millis(duration))
}

func (m *Metrics) IncEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Inc()
}

func (m *Metrics) DecEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Dec()
}

func millis(d time.Duration) float64 {
	ms := float64(d.Milliseconds())
	if ms < 0 {
		return 0
	}
	return ms
}

func normalizeErrorCode(status string, errorCode *string) string {
	code := ""
	if errorCode != nil {
		code = strings.TrimSpace(*errorCode)
	}
	if code != "" {
		return code
	}
	if strings.TrimSpace(status) == "failed" {
		return "unknown"
	}
	return "none"
}
