package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeReplied    = "replied"
	outcomeReplyError = "reply_error"
	outcomeUnanswered = "unanswered"
	outcomeSkipped    = "skipped"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// Registering against an injected registry keeps unit tests hermetic.
type serverMetrics struct {
	// webhookEventsTotal counts webhook events by outcome: replied,
	// reply_error, unanswered (no LINE client) or skipped (not a text
	// message).
	webhookEventsTotal *prometheus.CounterVec

	// askDurationSeconds records the latency of /api/ask routing.
	askDurationSeconds prometheus.Histogram

	// reloadsTotal counts snapshot reloads by outcome.
	reloadsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests by method, route pattern
	// and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook events handled, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tscbot",
			Subsystem: "api",
			Name:      "ask_duration_seconds",
			Help:      "Latency of /api/ask from receipt to routed reply.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		reloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "api",
			Name:      "reloads_total",
			Help:      "Snapshot reloads requested through /api/reload, partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", "handler", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tscbot",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "handler"}),
	}
}

// instrument records request count and latency per matched route pattern.
// Unmatched requests are labelled "unmatched" to bound cardinality.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)

		handler := r.Pattern
		if handler == "" {
			handler = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
