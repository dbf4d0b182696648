// Package metrics exposes NenDB's internal counters and gauges as
// Prometheus collectors, backing the `get_stats()`/`get_memory_stats()`
// surface described in spec §6.3/§6.4.
//
// Each embedded DB instance owns its own Registry rather than registering
// against prometheus.DefaultRegisterer, so multiple instances in one
// process (e.g. in tests) never collide on metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles all collectors a single NenDB instance exposes.
type Registry struct {
	reg *prometheus.Registry

	NodeCount      prometheus.Gauge
	EdgeCount      prometheus.Gauge
	EmbeddingCount prometheus.Gauge

	NodePoolFillRatio      prometheus.Gauge
	EdgePoolFillRatio      prometheus.Gauge
	EmbeddingPoolFillRatio prometheus.Gauge

	WALEntriesWritten prometheus.Counter
	WALBytesWritten   prometheus.Counter
	WALSyncs          prometheus.Counter
	WALRotations      prometheus.Counter
	WALReplayErrors   prometheus.Counter

	LockWaitSeconds     prometheus.Histogram
	LockTimeouts        prometheus.Counter
	SeqlockRetries      prometheus.Counter
	SeqlockFallbacks    prometheus.Counter
	DeadlocksAvoided    prometheus.Counter

	BatchesFlushed    prometheus.Counter
	BatchesRolledBack prometheus.Counter
	CompactionsRun    prometheus.Counter

	ParticipantsReclaimed prometheus.Counter

	ErrorsByKind *prometheus.CounterVec
}

// New constructs a fresh Registry with all collectors registered against
// their own prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		NodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nendb_node_count", Help: "Active node slots.",
		}),
		EdgeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nendb_edge_count", Help: "Active edge slots.",
		}),
		EmbeddingCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nendb_embedding_count", Help: "Active embedding slots.",
		}),
		NodePoolFillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nendb_node_pool_fill_ratio", Help: "used/capacity for the node pool.",
		}),
		EdgePoolFillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nendb_edge_pool_fill_ratio", Help: "used/capacity for the edge pool.",
		}),
		EmbeddingPoolFillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nendb_embedding_pool_fill_ratio", Help: "used/capacity for the embedding pool.",
		}),
		WALEntriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_wal_entries_written_total", Help: "WAL entries appended.",
		}),
		WALBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_wal_bytes_written_total", Help: "WAL bytes appended.",
		}),
		WALSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_wal_syncs_total", Help: "WAL fsync calls.",
		}),
		WALRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_wal_rotations_total", Help: "WAL segment rotations.",
		}),
		WALReplayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_wal_replay_errors_total", Help: "Deferred edge entries still unapplied after WAL replay's second pass (entries lost to a CRC failure are not counted).",
		}),
		LockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "nendb_lock_wait_seconds", Help: "Time spent waiting to acquire the write lock.",
			Buckets: prometheus.DefBuckets,
		}),
		LockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_lock_timeouts_total", Help: "Lock acquisitions that timed out.",
		}),
		SeqlockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_seqlock_retries_total", Help: "Optimistic read retries due to a concurrent writer.",
		}),
		SeqlockFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_seqlock_fallbacks_total", Help: "Reads that exhausted the retry bound and fell back to the rwlock.",
		}),
		DeadlocksAvoided: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_deadlocks_avoided_total", Help: "Lock acquisitions rejected by the deadlock detector.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_batches_flushed_total", Help: "Batches committed atomically.",
		}),
		BatchesRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_batches_rolled_back_total", Help: "Batches aborted and undone.",
		}),
		CompactionsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_compactions_total", Help: "LSM compaction passes completed after committed batches (a pass may merge no level).",
		}),
		ParticipantsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nendb_participants_reclaimed_total", Help: "Dead participant slots reclaimed via heartbeat timeout.",
		}),
		ErrorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nendb_errors_total", Help: "Errors returned by the public API, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.NodeCount, m.EdgeCount, m.EmbeddingCount,
		m.NodePoolFillRatio, m.EdgePoolFillRatio, m.EmbeddingPoolFillRatio,
		m.WALEntriesWritten, m.WALBytesWritten, m.WALSyncs, m.WALRotations, m.WALReplayErrors,
		m.LockWaitSeconds, m.LockTimeouts, m.SeqlockRetries, m.SeqlockFallbacks, m.DeadlocksAvoided,
		m.BatchesFlushed, m.BatchesRolledBack, m.CompactionsRun,
		m.ParticipantsReclaimed, m.ErrorsByKind,
	)
	return m
}

// Registry returns the underlying prometheus.Registry for callers that
// want to serve /metrics themselves.
func (m *Registry) Registry() *prometheus.Registry {
	return m.reg
}

// RecordError increments the per-kind error counter. kind is a free-form
// label (nendb.Kind.String()) so this package doesn't import nendb and
// create an import cycle.
func (m *Registry) RecordError(kind string) {
	m.ErrorsByKind.WithLabelValues(kind).Inc()
}
