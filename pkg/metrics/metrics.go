// Package metrics defines the Prometheus metric collectors used by the search
// core and its services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so the core can run without a registry.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	DocsAddedTotal          *prometheus.CounterVec
	PendingDocuments        prometheus.Gauge
	CommitsTotal            *prometheus.CounterVec
	CommitDuration          prometheus.Histogram
	SnapshotGeneration      prometheus.Gauge
	SnapshotsLive           prometheus.Gauge
	SnapshotsReclaimedTotal prometheus.Counter
	SearchQueriesTotal      *prometheus.CounterVec
	SearchLatency           *prometheus.HistogramVec
	SearchResultsCount      prometheus.Histogram
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler().
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
		DocsAddedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_added_total",
				Help: "Documents submitted to the store by result (accepted, rejected).",
			},
			[]string{"result"},
		),
		PendingDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_documents",
				Help: "Documents buffered and waiting for the next commit.",
			},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commits_total",
				Help: "Commit attempts by status (ok, empty, failed, busy).",
			},
			[]string{"status"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "commit_duration_seconds",
				Help:    "Time to build, persist and publish a snapshot.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		SnapshotGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_generation",
				Help: "Generation of the currently published snapshot.",
			},
		),
		SnapshotsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshots_live",
				Help: "Snapshots that are current or still referenced by a reader.",
			},
		),
		SnapshotsReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "snapshots_reclaimed_total",
				Help: "Snapshots reclaimed after their last reader released them.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by query kind and result type (hit, zero_result, error).",
			},
			[]string{"kind", "result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of hits returned per search query.",
				Buckets: []float64{0, 1, 3, 5, 10, 25, 50, 100, 1000},
			},
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
		m.DocsAddedTotal,
		m.PendingDocuments,
		m.CommitsTotal,
		m.CommitDuration,
		m.SnapshotGeneration,
		m.SnapshotsLive,
		m.SnapshotsReclaimedTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) DocAdded(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.DocsAddedTotal.WithLabelValues("accepted").Inc()
		return
	}
	m.DocsAddedTotal.WithLabelValues("rejected").Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingDocuments.Set(float64(n))
}

func (m *Metrics) CommitFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.CommitDuration.Observe(seconds)
	}
}

func (m *Metrics) SnapshotPublished(generation uint64) {
	if m == nil {
		return
	}
	m.SnapshotGeneration.Set(float64(generation))
	m.SnapshotsLive.Inc()
}

func (m *Metrics) SnapshotReclaimed() {
	if m == nil {
		return
	}
	m.SnapshotsLive.Dec()
	m.SnapshotsReclaimedTotal.Inc()
}

func (m *Metrics) QueryFinished(kind string, seconds float64, hits int, err error) {
	if m == nil {
		return
	}
	m.SearchLatency.WithLabelValues(kind).Observe(seconds)
	switch {
	case err != nil:
		m.SearchQueriesTotal.WithLabelValues(kind, "error").Inc()
		return
	case hits == 0:
		m.SearchQueriesTotal.WithLabelValues(kind, "zero_result").Inc()
	default:
		m.SearchQueriesTotal.WithLabelValues(kind, "hit").Inc()
	}
	m.SearchResultsCount.Observe(float64(hits))
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
