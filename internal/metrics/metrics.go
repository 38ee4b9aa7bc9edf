// Package metrics exposes Prometheus metrics for the engine on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "treetest"

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Domain metrics
	TreesCompiled    *prometheus.CounterVec
	OutcomesRecorded *prometheus.CounterVec
	SessionsActive   prometheus.Gauge

	// Cache metrics
	TreeCacheRequests *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, so tests can create as many as they like
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TreesCompiled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trees_compiled_total",
				Help:      "Tree notations compiled, by result",
			},
			[]string{"result"},
		),
		OutcomesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_recorded_total",
				Help:      "Task attempt outcomes recorded, by class",
			},
			[]string{"class"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "navigation_sessions_active",
				Help:      "Participant navigation sessions held in memory",
			},
		),
		TreeCacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_cache_requests_total",
				Help:      "Compiled tree cache lookups, by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.TreesCompiled,
		c.OutcomesRecorded,
		c.SessionsActive,
		c.TreeCacheRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// TreeCompiled counts one compile by result ("ok", "compile_error", "validation_error")
func (c *Collector) TreeCompiled(result string) {
	c.TreesCompiled.WithLabelValues(result).Inc()
}

// OutcomeRecorded counts one saved attempt by its outcome class
func (c *Collector) OutcomeRecorded(class string) {
	c.OutcomesRecorded.WithLabelValues(class).Inc()
}

// TreeCacheLookup counts a cache hit or miss
func (c *Collector) TreeCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.TreeCacheRequests.WithLabelValues(result).Inc()
}
