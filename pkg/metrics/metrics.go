// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	DocumentsAnnotated   *prometheus.CounterVec
	AnnotateLatency      *prometheus.HistogramVec
	ChunksPerDocument    prometheus.Histogram
	ExtractionsTotal     *prometheus.CounterVec
	LLMRequestsTotal     *prometheus.CounterVec
	LLMLatency           *prometheus.HistogramVec
	LLMTokensTotal       *prometheus.CounterVec
	LLMRetriesTotal      *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	JobsProcessedTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
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
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocumentsAnnotated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_annotated_total",
				Help: "Documents run through the extraction pipeline by outcome (ok, partial, failed, cached).",
			},
			[]string{"outcome"},
		),
		AnnotateLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annotate_latency_seconds",
				Help:    "End-to-end document annotation latency in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		ChunksPerDocument: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chunks_per_document",
				Help:    "Number of chunks a document was split into.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractions_total",
				Help: "Extractions by alignment status (match_exact, match_greater, match_lesser, match_fuzzy, unaligned).",
			},
			[]string{"status"},
		),
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Model calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		LLMLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "Model call latency in seconds.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"provider"},
		),
		LLMTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by provider and direction (prompt, total).",
			},
			[]string{"provider", "kind"},
		),
		LLMRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_retries_total",
				Help: "Retried model calls by provider.",
			},
			[]string{"provider"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		JobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotate_jobs_processed_total",
				Help: "Queued annotation jobs processed by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocumentsAnnotated,
		m.AnnotateLatency,
		m.ChunksPerDocument,
		m.ExtractionsTotal,
		m.LLMRequestsTotal,
		m.LLMLatency,
		m.LLMTokensTotal,
		m.LLMRetriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JobsProcessedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
