package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox delivery outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the relay that drains outbox rows to the broker.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	batch      prometheus.Histogram
}

// NewOutboxMetrics registers the relay metrics on reg. A nil reg yields a
// no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_deliveries_total",
		Help:      "Outbox rows handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outbox_batch_size",
		Help:      "Rows claimed per relay batch.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})
	reg.MustRegister(deliveries, batch)
	return &OutboxMetrics{deliveries: deliveries, batch: batch}
}

// Delivery counts one row leaving a relay batch with the given outcome.
func (m *OutboxMetrics) Delivery(eventType, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveBatch records how many rows a batch claimed.
func (m *OutboxMetrics) ObserveBatch(n int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(n))
}
