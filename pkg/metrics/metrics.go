package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Transaction manager metrics
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_commits_total",
			Help: "Total number of committed transactions",
		},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_conflicts_total",
			Help: "Total number of transactions aborted due to an OCC conflict",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_commit_duration_seconds",
			Help:    "Time taken to validate, append, and install a commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WAL metrics
	WALBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_wal_bytes_written_total",
			Help: "Total bytes appended to the write-ahead log",
		},
	)

	WALSegmentRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_wal_segment_rollovers_total",
			Help: "Total number of WAL segment rollovers",
		},
	)

	WALFsyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_wal_fsync_duration_seconds",
			Help:    "Time taken per fsync in Strict durability mode",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Snapshot / recovery / compaction metrics
	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_snapshots_total",
			Help: "Total number of snapshots written",
		},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_recovery_duration_seconds",
			Help:    "Time taken to recover a database on open",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveryOrphanedTxns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_recovery_orphaned_transactions",
			Help: "Orphaned (uncommitted) transactions discarded by the last recovery",
		},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_compactions_total",
			Help: "Total number of compactions by mode (wal_only, full)",
		},
		[]string{"mode"},
	)

	// EventLog metrics
	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_events_appended_total",
			Help: "Total number of events appended across all runs",
		},
	)

	// VectorStore metrics
	VectorUpsertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_vector_upserts_total",
			Help: "Total number of vector upserts",
		},
	)

	VectorSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_vector_search_duration_seconds",
			Help:    "Time taken per vector search, by collection",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Bundle metrics
	BundleExportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_bundle_export_duration_seconds",
			Help:    "Time taken to export a run bundle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		ConflictsTotal,
		CommitDuration,
		WALBytesWritten,
		WALSegmentRollovers,
		WALFsyncDuration,
		SnapshotsTotal,
		RecoveryDuration,
		RecoveryOrphanedTxns,
		CompactionsTotal,
		EventsAppendedTotal,
		VectorUpsertsTotal,
		VectorSearchDuration,
		BundleExportDuration,
	)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
