package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_booking_transitions_total",
			Help: "Booking transition attempts by action and outcome kind",
		},
		[]string{"action", "outcome"},
	)

	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_ledger_operations_total",
			Help: "Ledger operations by entry type and outcome kind",
		},
		[]string{"type", "outcome"},
	)

	ledgerAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_ledger_amount_minor_units_total",
			Help: "Sum of settled amounts in minor currency units",
		},
		[]string{"type"},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_audit_write_failures_total",
			Help: "Audit log entries that could not be persisted",
		},
	)

	timerFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_timer_transitions_total",
			Help: "Transitions fired by the deadline scanner by action and outcome kind",
		},
		[]string{"action", "outcome"},
	)

	timerScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escrow_timer_scan_duration_seconds",
			Help:    "Duration of one deadline scan",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)
)

// outcome is "success" for a nil kind, otherwise the error kind.
func outcome(kind string) string {
	if kind == "" {
		return "success"
	}
	return kind
}

func TrackTransition(action, kind string) {
	bookingTransitions.WithLabelValues(action, outcome(kind)).Inc()
}

func TrackLedgerOperation(entryType, kind string, amount int64) {
	ledgerOperations.WithLabelValues(entryType, outcome(kind)).Inc()
	if kind == "" && amount > 0 {
		ledgerAmount.WithLabelValues(entryType).Add(float64(amount))
	}
}

func TrackAuditFailure() {
	auditWriteFailures.Inc()
}

func TrackTimerTransition(action, kind string) {
	timerFired.WithLabelValues(action, outcome(kind)).Inc()
}

func ObserveTimerScan(seconds float64) {
	timerScanDuration.Observe(seconds)
}
