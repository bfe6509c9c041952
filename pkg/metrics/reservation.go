package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics tracks the reservation protocol.
type ReservationMetrics struct {
	operations *prometheus.CounterVec
	units      *prometheus.CounterVec
	retries    prometheus.Counter
	sweepBatch prometheus.Histogram
	cache      *prometheus.CounterVec
}

// NewReservationMetrics registers the reservation metrics on reg. A nil reg
// yields a no-op recorder.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_operations_total",
		Help:      "Reservation operations by outcome.",
	}, []string{"operation", "outcome"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_units_total",
		Help:      "Units moved through each reservation transition.",
	}, []string{"transition"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_conflict_retries_total",
		Help:      "Reserve attempts retried after concurrent modification.",
	})
	sweepBatch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reservation_sweep_batch_size",
		Help:      "Reservations expired per sweeper batch.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "availability_cache_total",
		Help:      "Availability cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(operations, units, retries, sweepBatch, cache)
	return &ReservationMetrics{
		operations: operations,
		units:      units,
		retries:    retries,
		sweepBatch: sweepBatch,
		cache:      cache,
	}
}

// Outcome records the result of a reserve/confirm/release/expire call.
func (m *ReservationMetrics) Outcome(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// Units adds qty to the counter for transition.
func (m *ReservationMetrics) Units(transition string, qty int) {
	if m == nil || m.units == nil || qty <= 0 {
		return
	}
	m.units.WithLabelValues(normalizeLabel(transition)).Add(float64(qty))
}

// IncRetry counts one conflict retry.
func (m *ReservationMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// ObserveSweepBatch records how many reservations one sweep batch expired.
func (m *ReservationMetrics) ObserveSweepBatch(n int) {
	if m == nil || m.sweepBatch == nil {
		return
	}
	m.sweepBatch.Observe(float64(n))
}

// CacheResult records an availability cache hit, miss or error.
func (m *ReservationMetrics) CacheResult(result string) {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.WithLabelValues(normalizeLabel(result)).Inc()
}
