// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "training_stats"

// Metrics groups every collector the service updates.
type Metrics struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheErrors     prometheus.Counter
	IngestRows      prometheus.Counter
	MalformedRows   *prometheus.CounterVec
	DatasetRecords  prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	AlertsTriggered *prometheus.CounterVec
}

// New registers the collectors with reg. Use a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Aggregation cache hits by dimension.",
		}, []string{"dimension"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Aggregation cache misses by dimension.",
		}, []string{"dimension"}),
		CacheErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "errors_total",
			Help: "Cache backend failures; the request is served uncached.",
		}),
		IngestRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rows_total",
			Help: "Source rows ingested.",
		}),
		MalformedRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "issues_total",
			Help: "Normalization issues by kind.",
		}, []string{"kind"}),
		DatasetRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dataset", Name: "records",
			Help: "Records in the active dataset.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		AlertsTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitoring", Name: "alerts_total",
			Help: "Data-quality alerts by type.",
		}, []string{"type"}),
	}
}
