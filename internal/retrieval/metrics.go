package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retrieval outcomes used as the "outcome" label.
const (
	outcomeNone   = "none"
	outcomeSingle = "single"
	outcomeMulti  = "multi"
	outcomeError  = "error"
)

// Metrics holds the ranker's Prometheus metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	// retrievalsTotal counts ranked queries by outcome.
	retrievalsTotal *prometheus.CounterVec

	// durationSeconds records scoring plus selection latency.
	durationSeconds prometheus.Histogram

	// topScore records the combined score of the best candidate.
	topScore prometheus.Histogram
}

// NewMetrics registers the retrieval metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		retrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total ranked queries, partitioned by outcome: none, single, multi or error.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tscbot",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of scoring and selecting candidates for one query.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
		}),

		topScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tscbot",
			Subsystem: "retrieval",
			Name:      "top_combined_score",
			Help:      "Combined score of the best candidate per query.",
			Buckets:   []float64{1, 2.5, 5, 7.5, 10, 15, 20, 30},
		}),
	}
}

func (m *Metrics) observe(outcome string, seconds float64, top float64, scored bool) {
	if m == nil {
		return
	}
	m.retrievalsTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.Observe(seconds)
	if scored {
		m.topScore.Observe(top)
	}
}
