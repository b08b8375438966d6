// Package metrics provides Prometheus collectors for a quiz peer: cleanup cycles,
// reaper deletions, cleanup lock attempts and stats transactions.
//
// Every recording method is safe to call on a nil receiver, so services can be
// built without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "basequiz"

// Cycle outcomes
const (
	OutcomeSkipped     = "skipped"
	OutcomeNotAcquired = "not_acquired"
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
)

// Lock attempt results
const (
	LockAcquired = "acquired"
	LockHeld     = "held"
	LockDenied   = "denied"
	LockError    = "error"
)

// Reaper deletion kinds and steps
const (
	KindGuest  = "guest"
	KindPlayer = "player"
	KindRoom   = "room"

	StepExpireGuests = "expire_guests"
	StepPurgePlayers = "purge_players"
	StepDeleteRooms  = "delete_rooms"
)

// Stats transaction results
const (
	StatsCommitted = "committed"
	StatsConflict  = "conflict"
	StatsFailed    = "failed"
)

// Metrics holds every collector of a peer.
type Metrics struct {
	// CleanupCycles counts scheduler cycles by outcome.
	CleanupCycles *prometheus.CounterVec

	// LockAttempts counts cleanup lock acquisition attempts by result.
	LockAttempts *prometheus.CounterVec

	// ReaperDeletions counts entities removed by the reaper by kind.
	ReaperDeletions *prometheus.CounterVec

	// ReaperStepFailures counts reaper sub-passes that failed and were deferred.
	ReaperStepFailures *prometheus.CounterVec

	// ReaperPassDuration tracks how long a full cleanup pass takes.
	ReaperPassDuration prometheus.Histogram

	// StatsTransactions counts stats aggregation transactions by result.
	StatsTransactions *prometheus.CounterVec
}

// New creates metrics registered with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CleanupCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cleanup",
				Name:      "cycles_total",
				Help:      "Cleanup scheduler cycles by outcome (skipped, not_acquired, completed).",
			},
			[]string{"outcome"},
		),
		LockAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cleanup",
				Name:      "lock_attempts_total",
				Help:      "Cleanup lock acquisition attempts by result.",
			},
			[]string{"result"},
		),
		ReaperDeletions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "deletions_total",
				Help:      "Entities deleted by the reaper by kind (guest, player, room).",
			},
			[]string{"kind"},
		),
		ReaperStepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "step_failures_total",
				Help:      "Reaper sub-passes that failed and were deferred to the next cycle.",
			},
			[]string{"step"},
		),
		ReaperPassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "pass_duration_seconds",
				Help:      "Duration of a full cleanup pass.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		StatsTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stats",
				Name:      "transactions_total",
				Help:      "Stats aggregation transactions by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordCycle counts one scheduler cycle.
func (m *Metrics) RecordCycle(outcome string) {
	if m == nil {
		return
	}
	m.CleanupCycles.WithLabelValues(outcome).Inc()
}

// RecordLockAttempt counts one lock acquisition attempt.
func (m *Metrics) RecordLockAttempt(result string) {
	if m == nil {
		return
	}
	m.LockAttempts.WithLabelValues(result).Inc()
}

// RecordDeletions adds n deletions of the given kind.
func (m *Metrics) RecordDeletions(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReaperDeletions.WithLabelValues(kind).Add(float64(n))
}

// RecordStepFailure counts a failed reaper sub-pass.
func (m *Metrics) RecordStepFailure(step string) {
	if m == nil {
		return
	}
	m.ReaperStepFailures.WithLabelValues(step).Inc()
}

// RecordPassDuration observes one cleanup pass.
func (m *Metrics) RecordPassDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ReaperPassDuration.Observe(d.Seconds())
}

// RecordStatsTransaction counts one stats transaction.
func (m *Metrics) RecordStatsTransaction(result string) {
	if m == nil {
		return
	}
	m.StatsTransactions.WithLabelValues(result).Inc()
}
