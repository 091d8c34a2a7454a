// Package metrics defines the Prometheus collectors for the ingestion API and
// exposes the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	IngestedTotal       *prometheus.CounterVec
	IngestDuration      prometheus.Histogram
	SitesCreatedTotal   prometheus.Counter
	SiteCacheHitsTotal  prometheus.Counter
	SiteCacheMissTotal  prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors on a dedicated registry, so tests
// can construct multiple instances without duplicate-registration panics.
func New() *Metrics {
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
		IngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articles_ingested_total",
				Help: "Total article ingestions by outcome (created, replaced, error).",
			},
			[]string{"outcome"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "article_ingest_duration_seconds",
				Help:    "End-to-end ingestion pipeline latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		SitesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sites_created_total",
				Help: "Total site documents created for previously-unseen domains.",
			},
		),
		SiteCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "site_cache_hits_total",
				Help: "Total site resolutions served from the cache.",
			},
		),
		SiteCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "site_cache_misses_total",
				Help: "Total site resolutions that fell through to the store.",
			},
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IngestedTotal,
		m.IngestDuration,
		m.SitesCreatedTotal,
		m.SiteCacheHitsTotal,
		m.SiteCacheMissTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
