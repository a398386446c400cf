// Package metrics exposes Prometheus collectors for guard decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Checks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduguard_checks_total",
			Help: "Guard checks by direction, feature and terminal state",
		},
		[]string{"direction", "feature", "state"},
	)

	CategoryMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduguard_category_matches_total",
			Help: "Detector matches by category and level",
		},
		[]string{"category", "level"},
	)

	DetectorFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduguard_detector_faults_total",
			Help: "Detector faults recovered into cautious results",
		},
		[]string{"detector"},
	)

	Redactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduguard_redactions_total",
			Help: "Redacted spans by direction and category",
		},
		[]string{"direction", "category"},
	)

	AuditWritesPending = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eduguard_audit_writes_pending_total",
			Help: "Synchronous audit writes not confirmed within the timeout",
		},
	)

	AuditAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eduguard_audit_alerts_total",
			Help: "Alerts raised for unconfirmed audit writes, by event severity",
		},
		[]string{"severity"},
	)
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eduguard_check_duration_seconds",
			Help:    "Time spent in a guard check, including synchronous audit writes",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"direction"},
	)
)

// RegisterPending exposes a live count of unconfirmed audit events.
func RegisterPending(reg prometheus.Registerer, pending func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "eduguard_audit_pending_events",
			Help: "Audit events awaiting a confirmed write",
		},
		func() float64 { return float64(pending()) },
	))
}
