package http

import (
	"strconv"
	"time"

	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Event metrics
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to rooms by kind",
		},
		[]string{"kind"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of events dropped on full subscriber channels",
		},
	)

	// Stream metrics
	streamSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_sessions_active",
			Help: "Number of currently live stream sessions",
		},
	)

	// Operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_total",
			Help: "Total number of finished operations by status",
		},
		[]string{"status"},
	)

	operationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Operation execution duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)
)

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordEventPublished counts one published event
func RecordEventPublished(kind string) {
	eventsPublishedTotal.WithLabelValues(kind).Inc()
}

// RecordEventDropped counts one event dropped on a slow subscriber
func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}

// SetActiveSessions sets the current number of live stream sessions
func SetActiveSessions(count int) {
	streamSessionsActive.Set(float64(count))
}

// RecordOperationFinished records a terminal operation
func RecordOperationFinished(status string, duration time.Duration) {
	operationsTotal.WithLabelValues(status).Inc()
	operationDuration.Observe(duration.Seconds())
}
