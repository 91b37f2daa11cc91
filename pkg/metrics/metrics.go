// Package metrics exposes Prometheus instrumentation for flows, tasks,
// searches, resilience, and the HTTP surface. A nil *Metrics is a valid
// no-op recorder so callers never have to guard instrumentation sites.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delver"

// Metrics bundles every collector behind typed record methods. Collectors
// register against a private registry so tests stay isolated from the
// process-global default.
type Metrics struct {
	registry *prometheus.Registry

	flowsCreated  prometheus.Counter
	flowsFinished *prometheus.CounterVec
	flowsActive   prometheus.Gauge
	flowDuration  prometheus.Histogram

	tasksSubmitted prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	tasksActive    prometheus.Gauge
	taskQueueDepth prometheus.Gauge
	taskDuration   prometheus.Histogram

	searchRequests  *prometheus.CounterVec
	searchFallbacks *prometheus.CounterVec
	searchCacheHits *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec

	retries      *prometheus.CounterVec
	breakerState *prometheus.GaugeVec

	errorsReported *prometheus.CounterVec
	alertsFired    *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	wsConnections prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a Metrics instance registering on the given
// registry. Tests pass a fresh registry to avoid duplicate registration.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		flowsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_created_total",
			Help:      "Flows accepted by the flow manager.",
		}),
		flowsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_finished_total",
			Help:      "Flows that reached a terminal status.",
		}, []string{"status"}),
		flowsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flows_active",
			Help:      "Flows currently running.",
		}),
		flowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Wall-clock duration of completed flows.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		tasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks submitted to the scheduler.",
		}),
		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		tasksActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Tasks currently executing.",
		}),
		taskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Tasks waiting in the ready queue.",
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Execution duration of finished tasks.",
			Buckets:   prometheus.DefBuckets,
		}),

		searchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search backend calls by outcome.",
		}, []string{"backend", "outcome"}),
		searchFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_fallbacks_total",
			Help:      "Times a search fell through to a fallback backend.",
		}, []string{"backend"}),
		searchCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_events_total",
			Help:      "Search cache hits and misses.",
		}, []string{"result"}),
		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of search backend calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"backend"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts past the first try.",
		}, []string{"operation"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),

		errorsReported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_reported_total",
			Help:      "Errors accepted by the reporter.",
		}, []string{"kind", "severity"}),
		alertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alert rule firings.",
		}, []string{"rule"}),

		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens exchanged with model providers.",
		}, []string{"provider", "direction"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections.",
		}),
	}
}

// Gatherer exposes the private registry for the /metrics endpoint.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) RecordFlowCreated() {
	if m == nil {
		return
	}
	m.flowsCreated.Inc()
}

func (m *Metrics) RecordFlowStarted() {
	if m == nil {
		return
	}
	m.flowsActive.Inc()
}

func (m *Metrics) RecordFlowFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.flowsActive.Dec()
	m.flowsFinished.WithLabelValues(status).Inc()
	m.flowDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

func (m *Metrics) RecordTaskStarted() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

func (m *Metrics) RecordTaskFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
	m.tasksFinished.WithLabelValues(status).Inc()
	m.taskDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetTaskQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.taskQueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordSearch(backend, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(backend, outcome).Inc()
	m.searchDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func (m *Metrics) RecordSearchFallback(backend string) {
	if m == nil {
		return
	}
	m.searchFallbacks.WithLabelValues(backend).Inc()
}

func (m *Metrics) RecordSearchCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.searchCacheHits.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// SetBreakerState records 0 for closed, 1 for half-open, 2 for open.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}

func (m *Metrics) RecordErrorReported(kind, severity string) {
	if m == nil {
		return
	}
	m.errorsReported.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) RecordAlertFired(rule string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(rule).Inc()
}

func (m *Metrics) RecordLLMRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordLLMTokens(provider string, prompt, completion int) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	m.llmTokens.WithLabelValues(provider, "completion").Add(float64(completion))
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) WSConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WSConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
