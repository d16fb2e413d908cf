// Package metrics provides Prometheus instrumentation for the job engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for the job engine.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RunInProgress      *prometheus.GaugeVec
	ItemsScannedTotal  *prometheus.CounterVec
	ItemsSkippedTotal  *prometheus.CounterVec
	ItemsFailedTotal   *prometheus.CounterVec
	PagesFetchedTotal  *prometheus.CounterVec
	GroupsWrittenTotal *prometheus.CounterVec
	ChunkFailuresTotal *prometheus.CounterVec
	BreakerTripsTotal  *prometheus.CounterVec
	LockReclaimsTotal  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_runs_total",
			Help: "Total job runs, partitioned by kind and terminal status.",
		}, []string{"kind", "status"}),

		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregation_run_duration_seconds",
			Help:    "Wall-clock duration of a job run from lock to release.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),

		RunInProgress: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aggregation_run_in_progress",
			Help: "Whether a run is currently processing (1) or not (0).",
		}, []string{"kind"}),

		ItemsScannedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_items_scanned_total",
			Help: "Total source items read across all runs.",
		}, []string{"kind"}),

		ItemsSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_items_skipped_total",
			Help: "Total items skipped for invalid schema or freshness.",
		}, []string{"kind"}),

		ItemsFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_items_failed_total",
			Help: "Total per-item actions that failed after retries.",
		}, []string{"kind"}),

		PagesFetchedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_pages_fetched_total",
			Help: "Total source pages fetched across all runs.",
		}, []string{"kind"}),

		GroupsWrittenTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_groups_written_total",
			Help: "Total output records committed.",
		}, []string{"kind"}),

		ChunkFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_chunk_failures_total",
			Help: "Total commit chunks that failed and were skipped.",
		}, []string{"kind"}),

		BreakerTripsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_breaker_trips_total",
			Help: "Total runs aborted by the consecutive-failure breaker.",
		}, []string{"kind"}),

		LockReclaimsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregation_lock_reclaims_total",
			Help: "Total stale processing locks reclaimed by a new run.",
		}, []string{"kind"}),
	}
}
