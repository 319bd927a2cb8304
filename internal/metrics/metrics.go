// Package metrics holds the process-wide Prometheus collectors. They are
// updated at scan state transitions and scraped via GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_scans_submitted_total",
		Help: "Total scans submitted",
	}, []string{"scan_type"})

	ScansCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_scans_completed_total",
		Help: "Total scans that reached a terminal state",
	}, []string{"gvm_status"})

	// Adapter-level failures, not engine statuses.
	ScansFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanhub_scans_failed_total",
		Help: "Total scans that failed due to adapter/connection errors",
	})

	ScansActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanhub_scans_active",
		Help: "Number of scans currently in progress",
	})

	ScansActivePerProbe = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanhub_probe_scans_active",
		Help: "Number of scans currently in progress per probe",
	}, []string{"probe"})

	ProbeScansRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_probe_scans_routed_total",
		Help: "Total scans routed to each probe",
	}, []string{"probe"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanhub_scan_duration_seconds",
		Help:    "Scan duration from start to terminal state",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	})

	EngineConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_gvm_connection_errors_total",
		Help: "Total GVM connection failures",
	}, []string{"probe"})
)
