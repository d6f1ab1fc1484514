package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the collectors for one server. Each server owns its registry
// so several instances can live in one process.
type metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	proofs          *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	buildDuration   prometheus.Histogram
	rateLimited     prometheus.Counter
	cachedTrees     prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "merkle",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "merkle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		proofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "merkle",
			Name:      "proofs_generated_total",
			Help:      "Proofs generated by kind.",
		}, []string{"kind"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "merkle",
			Name:      "verifications_total",
			Help:      "Proof verifications by kind and outcome.",
		}, []string{"kind", "valid"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "merkle",
			Name:      "tree_build_duration_seconds",
			Help:      "Time spent building or rebuilding trees.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merkle",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
		cachedTrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "merkle",
			Name:      "cached_trees",
			Help:      "Trees currently held in the in-process cache.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.proofs,
		m.verifications,
		m.buildDuration,
		m.rateLimited,
		m.cachedTrees,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
