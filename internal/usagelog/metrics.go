package usagelog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cynthiaiii4/TSCBot/internal/store"
)

const (
	outcomeWritten = "written"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
)

// Metrics counts usage events by kind and outcome. A nil *Metrics records
// nothing.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics registers the usage-log metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		eventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "tscbot",
			Subsystem: "usagelog",
			Name:      "events_total",
			Help:      "Usage events by kind and outcome: written, failed or dropped.",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) inc(kind store.EventKind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(kind), outcome).Inc()
}
