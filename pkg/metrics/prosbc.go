package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/telique/sbcfleet/pkg/prosbc"
)

// sessionMetrics is the Prometheus implementation of prosbc.SessionMetrics.
type sessionMetrics struct {
	logins    *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
}

// NewSessionMetrics creates a Prometheus-backed prosbc.SessionMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSessionMetrics() prosbc.SessionMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &sessionMetrics{
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_logins_total",
				Help: "Total login attempts per appliance by outcome",
			},
			[]string{"appliance", "outcome"}, // outcome: "ok" or an error kind
		),
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_session_cache_hits_total",
				Help: "Sessions served from the pool without a login",
			},
			[]string{"appliance"},
		),
	}
}

func (m *sessionMetrics) RecordLogin(applianceID, outcome string) {
	m.logins.WithLabelValues(applianceID, outcome).Inc()
}

func (m *sessionMetrics) RecordCacheHit(applianceID string) {
	m.cacheHits.WithLabelValues(applianceID).Inc()
}

// fileOpMetrics is the Prometheus implementation of prosbc.FileOpMetrics.
type fileOpMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewFileOpMetrics creates a Prometheus-backed prosbc.FileOpMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFileOpMetrics() prosbc.FileOpMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &fileOpMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_file_operations_total",
				Help: "File operations per appliance by kind and outcome",
			},
			[]string{"appliance", "op", "kind", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "sbcfleet_file_operation_duration_seconds",
				Help: "Duration of file operations against appliances",
				Buckets: []float64{
					0.05, // cached listing
					0.1,
					0.25,
					0.5,
					1,
					2.5,
					5, // slow appliance
					10,
					30, // operation deadline
				},
			},
			[]string{"op"},
		),
	}
}

func (m *fileOpMetrics) RecordFileOp(applianceID, op string, kind prosbc.FileKind, outcome string, duration time.Duration) {
	m.operations.WithLabelValues(applianceID, op, string(kind), outcome).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}
