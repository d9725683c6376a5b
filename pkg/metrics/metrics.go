// Package metrics defines the Prometheus metric collectors used across the
// watcher, index and query API, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	PollCyclesTotal      prometheus.Counter
	PollCycleDuration    prometheus.Histogram
	FilesInspectedTotal  prometheus.Counter
	InspectErrorsTotal   prometheus.Counter
	ChangeEventsTotal    *prometheus.CounterVec
	ListenerErrorsTotal  prometheus.Counter
	IndexOpsTotal        *prometheus.CounterVec
	IndexedContainers    prometheus.Gauge
	IndexedTokens        prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheBreakerOpen     prometheus.Gauge
	SinkDroppedTotal     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PollCyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watcher_poll_cycles_total",
				Help: "Completed change-detection poll cycles.",
			},
		),
		PollCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "watcher_poll_cycle_duration_seconds",
				Help:    "Wall time of one scan-inspect-reap cycle.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
		FilesInspectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watcher_files_inspected_total",
				Help: "Files whose content digest was computed.",
			},
		),
		InspectErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watcher_inspect_errors_total",
				Help: "File inspections skipped because of I/O errors.",
			},
		),
		ChangeEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_change_events_total",
				Help: "Change events emitted by kind (create, update, delete).",
			},
			[]string{"kind"},
		),
		ListenerErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watcher_listener_errors_total",
				Help: "Listener invocations that returned an error or panicked.",
			},
		),
		IndexOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_operations_total",
				Help: "Index mutations applied by operation and status.",
			},
			[]string{"op", "status"},
		),
		IndexedContainers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_containers",
				Help: "Files currently present in the index.",
			},
		),
		IndexedTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_tokens",
				Help: "Distinct tokens currently present in the index.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total word lookups by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Word lookup latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		CacheBreakerOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cache_breaker_open",
				Help: "1 while the query cache circuit breaker bypasses the store.",
			},
		),
		SinkDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_sink_dropped_total",
				Help: "Change events dropped by a sink because its buffer was full.",
			},
			[]string{"sink"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PollCyclesTotal,
		m.PollCycleDuration,
		m.FilesInspectedTotal,
		m.InspectErrorsTotal,
		m.ChangeEventsTotal,
		m.ListenerErrorsTotal,
		m.IndexOpsTotal,
		m.IndexedContainers,
		m.IndexedTokens,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheBreakerOpen,
		m.SinkDroppedTotal,
	)

	m.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler returns the Prometheus scrape HTTP handler for the registry the
// collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
