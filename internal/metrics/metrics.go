// Package metrics provides Prometheus metrics for the backend API
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			// Long-poll requests legitimately hold for up to a minute
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// HTTPResponseSize measures HTTP response size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatwire",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

var (
	// EventsPublished counts events accepted by the bus, by type
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published to the bus by type",
		},
		[]string{"event_type"},
	)

	// EventsDelivered counts events handed to clients, by transport
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Total number of events delivered to clients by transport",
		},
		[]string{"transport"},
	)

	// ActiveQueues tracks the number of live scope queues
	ActiveQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "active_queues",
			Help:      "Number of live scope queues on the bus",
		},
	)

	// BufferedEvents tracks total retained events across all queues
	BufferedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "buffered_events",
			Help:      "Total number of events currently retained across all scope queues",
		},
	)

	// BlockedPollWaiters tracks currently blocked long-poll requests
	BlockedPollWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "blocked_poll_waiters",
			Help:      "Number of long-poll requests currently blocked on the bus",
		},
	)

	// StreamConnectionsActive tracks open SSE connections
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "stream_connections_active",
			Help:      "Number of open SSE stream connections",
		},
	)

	// SweepEventsEvicted counts events removed by retention sweeps
	SweepEventsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "sweep_evicted_total",
			Help:      "Total number of events evicted by retention sweeps",
		},
	)

	// SweepQueuesRemoved counts queues removed by retention sweeps
	SweepQueuesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "events",
			Name:      "sweep_queues_removed_total",
			Help:      "Total number of scope queues removed by retention sweeps",
		},
	)
)

var (
	// DBConnectionsOpen tracks open database connections
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "db",
			Name:      "connections_open",
			Help:      "Number of open database connections",
		},
	)

	// DBConnectionsInUse tracks database connections currently in use
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "db",
			Name:      "connections_in_use",
			Help:      "Number of database connections currently in use",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)
)

// PublishRecorder implements the bus recorder hook over the events counter.
type PublishRecorder struct{}

// EventPublished records one accepted publish.
func (PublishRecorder) EventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// SweepRecorder implements the sweeper recorder hook over the sweep counters.
type SweepRecorder struct{}

// SweepCompleted records the outcome of one retention pass.
func (SweepRecorder) SweepCompleted(eventsEvicted, queuesRemoved int) {
	SweepEventsEvicted.Add(float64(eventsEvicted))
	SweepQueuesRemoved.Add(float64(queuesRemoved))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush passes flushes through so SSE streaming works behind the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()

		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.size))
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
