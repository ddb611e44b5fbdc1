// Package metrics holds the Prometheus collectors of the reservation engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rental"

// Metrics groups every collector exported by the service.
type Metrics struct {
	transitions  *prometheus.CounterVec
	availability *prometheus.CounterVec
	lockWait     prometheus.Histogram
	lockTimeouts prometheus.Counter
	payments     *prometheus.CounterVec
	contracts    *prometheus.CounterVec
	events       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "transitions_total",
			Help:      "Reservation status transitions, by target status.",
		}, []string{"status"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "availability_checks_total",
			Help:      "Availability checks, by result (available, conflict, error).",
		}, []string{"result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent acquiring per-asset locks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Per-asset lock acquisitions that timed out.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "reconciled_total",
			Help:      "Reconciled payment events, by result.",
		}, []string{"result"}),
		contracts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "transitions_total",
			Help:      "Contract status transitions, by target status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle events handed to the broker, by topic and outcome.",
		}, []string{"topic", "outcome"}),
	}

	reg.MustRegister(
		m.transitions,
		m.availability,
		m.lockWait,
		m.lockTimeouts,
		m.payments,
		m.contracts,
		m.events,
	)
	return m
}

// ReservationTransition counts a reservation entering status.
func (m *Metrics) ReservationTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// AvailabilityCheck counts one availability decision.
func (m *Metrics) AvailabilityCheck(result string) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(result).Inc()
}

// LockAcquired records how long a lock acquisition waited.
func (m *Metrics) LockAcquired(wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(wait.Seconds())
}

// LockTimedOut counts a lock acquisition that gave up.
func (m *Metrics) LockTimedOut() {
	if m == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// PaymentReconciled counts a reconciled payment event.
func (m *Metrics) PaymentReconciled(result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
}

// ContractTransition counts a contract entering status.
func (m *Metrics) ContractTransition(status string) {
	if m == nil {
		return
	}
	m.contracts.WithLabelValues(status).Inc()
}

// EventPublished counts a publish attempt on topic.
func (m *Metrics) EventPublished(topic string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.events.WithLabelValues(topic, outcome).Inc()
}
