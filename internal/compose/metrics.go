package compose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Composition outcomes used as the "outcome" label.
const (
	outcomeOK     = "ok"
	outcomeEmpty  = "empty"
	outcomeError  = "error"
	outcomeDirect = "direct"
)

// Metrics holds the composer's Prometheus metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	repliesTotal    *prometheus.CounterVec
	durationSeconds prometheus.Histogram
}

// NewMetrics registers the composer metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		repliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "compose",
			Name:      "replies_total",
			Help:      "Total composed replies, partitioned by outcome: ok, empty, error or direct.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tscbot",
			Subsystem: "compose",
			Name:      "duration_seconds",
			Help:      "Latency of retrieval plus answer synthesis.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) observe(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.Observe(seconds)
}
