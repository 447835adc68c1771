package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/telique/sbcfleet/pkg/orchestrator"
)

// orchestratorMetrics is the Prometheus implementation of orchestrator.Metrics.
type orchestratorMetrics struct {
	fanOuts         *prometheus.CounterVec
	fanOutDuration  *prometheus.HistogramVec
	fanOutFailures  *prometheus.CounterVec
	syncFiles       *prometheus.CounterVec
	syncErrors      *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	fanOutAppliance prometheus.Histogram
}

// NewOrchestratorMetrics creates a Prometheus-backed orchestrator.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewOrchestratorMetrics() orchestrator.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &orchestratorMetrics{
		fanOuts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_fanouts_total",
				Help: "Fleet-wide fan-out operations by kind and result",
			},
			[]string{"op", "clean"}, // clean: "true" when no appliance failed
		),
		fanOutDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "sbcfleet_fanout_duration_seconds",
				Help: "Wall time of fleet-wide fan-out operations",
				Buckets: []float64{
					0.5,
					1,
					2.5,
					5,
					10,
					30, // per-appliance deadline
					60,
					120, // large fleet, saturated worker pool
				},
			},
			[]string{"op"},
		),
		fanOutFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_fanout_appliance_failures_total",
				Help: "Per-appliance failures inside fan-out operations",
			},
			[]string{"op"},
		),
		fanOutAppliance: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sbcfleet_fanout_appliances",
				Help:    "Number of appliances touched per fan-out",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		syncFiles: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_sync_files_total",
				Help: "Digitmap files synced into the inventory per appliance",
			},
			[]string{"appliance"},
		),
		syncErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbcfleet_sync_errors_total",
				Help: "Files that failed to sync per appliance",
			},
			[]string{"appliance"},
		),
		syncDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sbcfleet_sync_duration_seconds",
				Help:    "Duration of per-appliance inventory syncs",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"appliance"},
		),
	}
}

func (m *orchestratorMetrics) RecordFanOut(op string, appliances int, failures int, duration time.Duration) {
	m.fanOuts.WithLabelValues(op, strconv.FormatBool(failures == 0)).Inc()
	m.fanOutDuration.WithLabelValues(op).Observe(duration.Seconds())
	m.fanOutFailures.WithLabelValues(op).Add(float64(failures))
	m.fanOutAppliance.Observe(float64(appliances))
}

func (m *orchestratorMetrics) RecordSync(applianceID string, files int, errors int, duration time.Duration) {
	m.syncFiles.WithLabelValues(applianceID).Add(float64(files))
	m.syncErrors.WithLabelValues(applianceID).Add(float64(errors))
	m.syncDuration.WithLabelValues(applianceID).Observe(duration.Seconds())
}
