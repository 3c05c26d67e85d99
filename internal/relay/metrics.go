package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "relay_"

// Metrics bundles handler metrics. A nil *Metrics records nothing.
type Metrics struct {
	Invocations    *prometheus.CounterVec
	Filtered       *prometheus.CounterVec
	ForwardLatency prometheus.Histogram
}

// NewMetrics constructs the handler metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invocations_total",
				Help: "Total handler invocations by outcome",
			},
			[]string{"outcome"},
		),
		Filtered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "filtered_total",
				Help: "Total dropped invocations by reason",
			},
			[]string{"reason"},
		),
		ForwardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "forward_latency_seconds",
			Help:    "Inbound API forward latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Invocations, m.Filtered, m.ForwardLatency)
	}
	return m
}

func (m *Metrics) observe(outcome Outcome, reason string) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(string(outcome)).Inc()
	if reason != "" {
		m.Filtered.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) forwardDone(d time.Duration) {
	if m == nil {
		return
	}
	m.ForwardLatency.Observe(d.Seconds())
}
