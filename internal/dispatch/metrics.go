package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Routes used as the "route" label.
const (
	routeCategories = "categories"
	routeCategory   = "category"
	routeQuestion   = "question"
	routeHot        = "hot"
	routePoints     = "points"
	routeCompose    = "compose"
)

// Metrics counts handled messages by route. A nil *Metrics records
// nothing.
type Metrics struct {
	messagesTotal   *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the dispatch metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Inbound messages by route.",
		}, []string{"route"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tscbot",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time to produce a reply, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) observe(route string, seconds float64) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(route).Inc()
	m.durationSeconds.WithLabelValues(route).Observe(seconds)
}
