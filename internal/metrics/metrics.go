// Package metrics exposes Prometheus collectors for the progress service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	streamsActive              prometheus.Gauge
	streamEventsTotal          *prometheus.CounterVec
	cleanupRunsTotal           *prometheus.CounterVec
	cleanupDeletedTotal        prometheus.Counter
	rateLimitedTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		streamsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "progress_streams_active",
				Help: "Number of open tracker streams.",
			},
		)

		streamEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_stream_events_total",
				Help: "Events written to tracker streams, labeled by event type.",
			},
			[]string{"event"},
		)

		cleanupRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_cleanup_runs_total",
				Help: "Retention sweeps, labeled by result.",
			},
			[]string{"result"},
		)

		cleanupDeletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_cleanup_deleted_total",
				Help: "Records deleted by retention sweeps.",
			},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter, labeled by method.",
			},
			[]string{"method"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StreamOpened increments the open stream gauge.
func StreamOpened() {
	Init()
	streamsActive.Inc()
}

// StreamClosed decrements the open stream gauge.
func StreamClosed() {
	Init()
	streamsActive.Dec()
}

// ObserveStreamEvent counts one event written to a stream.
func ObserveStreamEvent(event string) {
	Init()
	streamEventsTotal.WithLabelValues(event).Inc()
}

// ObserveCleanup records the outcome of one retention sweep.
func ObserveCleanup(deleted int, err error) {
	Init()
	if err != nil {
		cleanupRunsTotal.WithLabelValues("error").Inc()
		return
	}
	cleanupRunsTotal.WithLabelValues("success").Inc()
	cleanupDeletedTotal.Add(float64(deleted))
}

// ObserveRateLimited counts one request rejected with 429.
func ObserveRateLimited(method string) {
	Init()
	rateLimitedTotal.WithLabelValues(method).Inc()
}
