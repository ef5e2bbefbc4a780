package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts what the relay did with each outbox event.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
	batch    prometheus.Histogram
}

// NewOutboxMetrics registers the outbox publisher metrics.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "batch_size",
		Help:      "Events claimed per relay batch.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
	})
	reg.MustRegister(outcomes, batch)
	return &OutboxMetrics{outcomes: outcomes, batch: batch}
}

// ObserveOutcome counts one event. Outcome is published, retry or parked.
func (m *OutboxMetrics) ObserveOutcome(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(labelOrUnknown(eventType), labelOrUnknown(outcome)).Inc()
}

// ObserveBatch records how many rows one poll claimed.
func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(size))
}
