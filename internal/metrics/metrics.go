// Package metrics provides Prometheus instrumentation for Guardian.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScansTotal counts scan sessions by terminal state.
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "scans_total",
			Help:      "Total scan sessions by terminal state.",
		},
		[]string{"state"},
	)

	// ScanDuration observes end-to-end scan duration.
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan session duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30},
		},
	)

	// ProbesTotal counts probe executions by source and result.
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "probes_total",
			Help:      "Total probe executions by source and result (ok, degraded, cached).",
		},
		[]string{"source", "result"},
	)

	// ProbeDuration observes per-probe latency by source.
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "probe_duration_seconds",
			Help:      "Probe execution duration in seconds by source.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"source"},
	)

	// CacheHits counts probe cache hits and misses.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "probe_cache_total",
			Help:      "Probe cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)

	// RevokesTotal counts revoke operations by final status.
	RevokesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "revokes_total",
			Help:      "Total revoke operations by status transition.",
		},
		[]string{"status"},
	)

	// DuplicateRevokesTotal counts requests collapsed onto an existing key.
	DuplicateRevokesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "duplicate_revokes_total",
			Help:      "Revoke requests that returned an existing operation unchanged.",
		},
	)

	// TrustScores observes the distribution of produced trust scores.
	TrustScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "trust_score",
			Help:      "Distribution of trust scores across completed scans.",
			Buckets:   []float64{15, 30, 40, 60, 75, 90, 100},
		},
	)

	// ActiveStreamClients tracks connected scan stream subscribers.
	ActiveStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "active_stream_clients",
			Help:      "Number of currently connected scan stream subscribers.",
		},
	)

	// RateLimitRejections counts requests rejected by the rate limiter.
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the rate limiter, by scope.",
		},
		[]string{"scope"},
	)

	// AlertsTotal counts risk alerts emitted to the notification collaborator.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "alerts_total",
			Help:      "Risk alerts emitted by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScansTotal,
		ScanDuration,
		ProbesTotal,
		ProbeDuration,
		CacheHits,
		RevokesTotal,
		DuplicateRevokesTotal,
		TrustScores,
		ActiveStreamClients,
		RateLimitRejections,
		AlertsTotal,
	)
}

// Middleware records request counts and latency for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
