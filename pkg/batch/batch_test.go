package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nen-co/nendb/pkg/config"
	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/wal"
)

func testBatchConfig() config.BatchConfig {
	cfg := config.Default().Batch
	cfg.MaxBatchWait = 0 // disable the timer for deterministic tests
	return cfg
}

func TestBatcherFlushesOnSizeThreshold(t *testing.T) {
	cfg := testBatchConfig()
	cfg.AutoFlushThreshold = 2
	cfg.MaxBatchSize = 100

	var mu sync.Mutex
	var flushed [][]Op
	b := NewBatcher(cfg, func(ops []Op) error {
		mu.Lock()
		flushed = append(flushed, ops)
		mu.Unlock()
		return nil
	})

	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 1}))
	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 2}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0], 2)
}

func TestBatcherHomogeneousBatchingGroupsByKind(t *testing.T) {
	cfg := testBatchConfig()
	cfg.AutoFlushThreshold = 1000
	cfg.EnableHomogeneousBatching = true

	var calls [][]Op
	b := NewBatcher(cfg, func(ops []Op) error {
		calls = append(calls, ops)
		return nil
	})

	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 1}))
	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryEdgeInsert, From: 1, To: 2}))
	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 2}))

	require.NoError(t, b.Flush())
	// Grouping reorders the queue into contiguous per-Kind runs but still
	// flushes it as a single FlushFunc call, preserving the all-or-nothing
	// contract: splitting into one call per kind would let an earlier
	// group's mutations survive a later group's failure.
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 3)
	assert.Equal(t, wal.EntryNodeInsert, calls[0][0].Kind)
	assert.Equal(t, wal.EntryNodeInsert, calls[0][1].Kind)
	assert.Equal(t, wal.EntryEdgeInsert, calls[0][2].Kind)
}

func TestBatcherQueueOverflowRejectsWhenNotBlocking(t *testing.T) {
	cfg := testBatchConfig()
	cfg.QueueCapacity = 1
	cfg.AutoFlushThreshold = 1000
	cfg.MaxBatchSize = 1000
	cfg.BlockOnFullQueue = false

	b := NewBatcher(cfg, func(ops []Op) error { return nil })
	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 1}))
	err := b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 2})
	assert.ErrorIs(t, err, errkind.ErrQueueOverflow)
}

func TestBatcherFlushPropagatesFailure(t *testing.T) {
	cfg := testBatchConfig()
	cfg.AutoFlushThreshold = 1000

	b := NewBatcher(cfg, func(ops []Op) error { return errkind.ErrCorruptedData })
	require.NoError(t, b.Enqueue(Op{Kind: wal.EntryNodeInsert, NodeID: 1}))
	err := b.Flush()
	assert.ErrorIs(t, err, errkind.ErrCorruptedData)
}

func TestLSMPutAndGet(t *testing.T) {
	lsm := NewLSM(config.Default().Batch)
	lsm.Put(42, []byte("v1"), false)
	payload, ok := lsm.Get(42)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), payload)
}

func TestLSMKeepsLastSeenVersion(t *testing.T) {
	lsm := NewLSM(config.Default().Batch)
	lsm.Put(1, []byte("old"), false)
	lsm.Put(1, []byte("new"), false)
	payload, ok := lsm.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), payload)
}

func TestLSMTombstoneHidesEntity(t *testing.T) {
	lsm := NewLSM(config.Default().Batch)
	lsm.Put(7, []byte("v1"), false)
	lsm.Put(7, nil, true)
	_, ok := lsm.Get(7)
	assert.False(t, ok)
}

func TestLSMCompactionCascadesAcrossLevels(t *testing.T) {
	cfg := config.Default().Batch
	cfg.CompactionThreshold = 4
	cfg.LSMLevels = 3
	lsm := NewLSM(cfg)

	for i := uint64(0); i < 20; i++ {
		lsm.Put(i, []byte("v"), false)
	}
	require.NoError(t, lsm.MaybeCompact(context.Background()))

	// L0 (capacity 4) overflows into L1 (capacity 8), which overflows in
	// turn into L2.
	levels := lsm.Levels()
	assert.Less(t, levels[0], 20)
	assert.Equal(t, 20, levels[2])
	// Every entity is still reachable after compaction.
	for i := uint64(0); i < 20; i++ {
		_, ok := lsm.Get(i)
		assert.True(t, ok, "entity %d should survive compaction", i)
	}
}
