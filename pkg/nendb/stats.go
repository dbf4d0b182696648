package nendb

// Stats is get_stats()'s return shape (spec §6.3): entity counts, overall
// memory utilization, and lock contention metrics.
type Stats struct {
	NodeCount      uint32
	EdgeCount      uint32
	EmbeddingCount uint32

	MemoryUtil float64 // average of the three pools' fill ratios

	SeqlockRetries   uint64
	SeqlockFallbacks uint64

	WALEntriesWritten uint64
	WALBytesWritten   uint64
	WALSyncs          uint64
	WALRotations      uint64
}

// GetStats reports a point-in-time snapshot (spec §6.3).
func (db *DB) GetStats() Stats {
	mem := db.GetMemoryStats()
	s := Stats{
		NodeCount:        db.store.NodeCount(),
		EdgeCount:        db.store.EdgeCount(),
		EmbeddingCount:   db.store.EmbeddingCount(),
		MemoryUtil:       (mem.NodePoolFillRatio + mem.EdgePoolFillRatio + mem.EmbeddingPoolFillRatio) / 3,
		SeqlockRetries:   db.seq.Retries(),
		SeqlockFallbacks: db.seq.Fallbacks(),
	}
	if db.wal != nil {
		ws := db.wal.Stats()
		s.WALEntriesWritten = ws.EntriesWritten
		s.WALBytesWritten = ws.BytesWritten
		s.WALSyncs = ws.Syncs
		s.WALRotations = ws.Rotations
	}

	db.metrics.NodeCount.Set(float64(s.NodeCount))
	db.metrics.EdgeCount.Set(float64(s.EdgeCount))
	db.metrics.EmbeddingCount.Set(float64(s.EmbeddingCount))
	db.syncCounterDeltas(s)
	return s
}

// syncCounterDeltas feeds the Prometheus counters from cumulative values
// this polling-based snapshot observes, rather than incrementing them at
// every call site: each counter only ever moves forward by the delta
// since the previous GetStats call.
func (db *DB) syncCounterDeltas(s Stats) {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()

	db.metrics.WALEntriesWritten.Add(float64(s.WALEntriesWritten - db.lastWALEntries))
	db.metrics.WALBytesWritten.Add(float64(s.WALBytesWritten - db.lastWALBytes))
	db.metrics.WALSyncs.Add(float64(s.WALSyncs - db.lastWALSyncs))
	db.metrics.WALRotations.Add(float64(s.WALRotations - db.lastWALRotations))
	db.metrics.SeqlockRetries.Add(float64(s.SeqlockRetries - db.lastSeqRetries))
	db.metrics.SeqlockFallbacks.Add(float64(s.SeqlockFallbacks - db.lastSeqFallbacks))

	db.lastWALEntries = s.WALEntriesWritten
	db.lastWALBytes = s.WALBytesWritten
	db.lastWALSyncs = s.WALSyncs
	db.lastWALRotations = s.WALRotations
	db.lastSeqRetries = s.SeqlockRetries
	db.lastSeqFallbacks = s.SeqlockFallbacks
}

// MemoryStats is get_memory_stats()'s return shape: per-pool fill ratios
// plus the batcher's current adaptive threshold.
type MemoryStats struct {
	NodePoolFillRatio      float64
	EdgePoolFillRatio      float64
	EmbeddingPoolFillRatio float64
	BatchThreshold         int
	LSMLevelSizes          []int
}

// GetMemoryStats reports pool fill ratios (spec §6.3).
func (db *DB) GetMemoryStats() MemoryStats {
	ms := MemoryStats{
		NodePoolFillRatio:      db.store.NodePool().FillRatio(),
		EdgePoolFillRatio:      db.store.EdgePool().FillRatio(),
		EmbeddingPoolFillRatio: db.store.EmbeddingPool().FillRatio(),
		LSMLevelSizes:          db.lsm.Levels(),
	}
	if db.batcher != nil {
		ms.BatchThreshold = db.batcher.Threshold()
	}
	db.metrics.NodePoolFillRatio.Set(ms.NodePoolFillRatio)
	db.metrics.EdgePoolFillRatio.Set(ms.EdgePoolFillRatio)
	db.metrics.EmbeddingPoolFillRatio.Set(ms.EmbeddingPoolFillRatio)
	return ms
}
