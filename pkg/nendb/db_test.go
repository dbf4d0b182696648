package nendb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nen-co/nendb/pkg/batch"
	"github.com/nen-co/nendb/pkg/config"
	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/wal"
)

// testConfig returns a small, deterministic configuration rooted at dir:
// WAL enabled, batching disabled so CommitBatch applies synchronously,
// file locking and shared memory off so tests don't race over flock/mmap.
func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.WAL.Dir = dir
	cfg.Pool.NodeCapacity = 64
	cfg.Pool.EdgeCapacity = 64
	cfg.Pool.EmbeddingCapacity = 64
	cfg.Pool.EmbeddingDim = 4
	cfg.Features.EnableBatching = false
	cfg.Features.EnableFileLocking = false
	cfg.Features.EnableSharedMemory = false
	return cfg
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCloseIsIdempotent(t *testing.T) {
	db, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestAddNodeRejectsZeroIDAndDuplicates(t *testing.T) {
	db := openTestDB(t)

	err := db.AddNode(0, 1, nil)
	assert.ErrorIs(t, err, errkind.ErrInvalidID)

	require.NoError(t, db.AddNode(1, 10, []byte("a")))
	err = db.AddNode(1, 10, nil)
	assert.ErrorIs(t, err, errkind.ErrDuplicateNode)
}

func TestAddNodeAutoGeneratesDistinctIDs(t *testing.T) {
	db := openTestDB(t)

	id1, err := db.AddNodeAuto(1, nil)
	require.NoError(t, err)
	id2, err := db.AddNodeAuto(1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	n, err := db.FindNode(id1)
	require.NoError(t, err)
	assert.Equal(t, id1, n.ID)
}

func TestFindNodeNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.FindNode(999)
	assert.ErrorIs(t, err, errkind.ErrNodeNotFound)
}

func TestDeleteNodeRemovesIt(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))
	require.NoError(t, db.DeleteNode(1))
	_, err := db.FindNode(1)
	assert.ErrorIs(t, err, errkind.ErrNodeNotFound)
	assert.ErrorIs(t, db.DeleteNode(1), errkind.ErrNodeNotFound)
}

func TestAddEdgeRequiresBothEndpoints(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))

	err := db.AddEdge(1, 2, 50, nil)
	assert.ErrorIs(t, err, errkind.ErrNodeNotFound)

	require.NoError(t, db.AddNode(2, 1, nil))
	require.NoError(t, db.AddEdge(1, 2, 50, nil))
	assert.ErrorIs(t, db.AddEdge(1, 2, 50, nil), errkind.ErrDuplicateEdge)
}

func TestFindOutgoingAndIncomingEdges(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))
	require.NoError(t, db.AddNode(2, 1, nil))
	require.NoError(t, db.AddNode(3, 1, nil))
	require.NoError(t, db.AddEdge(1, 2, 50, nil))
	require.NoError(t, db.AddEdge(1, 3, 50, nil))

	out := make([]uint32, 4)
	n, err := db.FindOutgoingEdges(1, out)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	in := make([]uint32, 4)
	n, err = db.FindIncomingEdges(2, in)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

func TestDeleteEdgeNotFound(t *testing.T) {
	db := openTestDB(t)
	err := db.DeleteEdge(1, 2, 50)
	assert.ErrorIs(t, err, errkind.ErrEdgeNotFound)
}

// TestFindSimilarVectorsOrdersByScoreThenID mirrors the worked example in
// spec §3 edge case 6: five nodes with orthogonal/partial-overlap 4-D
// embeddings, querying [1,0,0,0] for the top 3 should return nodes 1, 3, 5
// in that order (node 1 is an exact match; 3 and 5 tie on cosine score and
// break ascending by id).
func TestFindSimilarVectorsOrdersByScoreThenID(t *testing.T) {
	db := openTestDB(t)
	vectors := map[uint64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0.7, 0.7, 0, 0},
		4: {0, 0, 1, 0},
		5: {0.7, 0.7, 0, 0},
	}
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, db.AddNode(id, 1, nil))
		require.NoError(t, db.AddVector(id, vectors[id]))
	}

	results, err := db.FindSimilarVectors([]float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []uint64{1, 3, 5}, []uint64{results[0].NodeID, results[1].NodeID, results[2].NodeID})
}

func TestAddVectorRejectsSecondEmbedding(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))
	require.NoError(t, db.AddVector(1, []float32{1, 0, 0, 0}))
	err := db.AddVector(1, []float32{0, 1, 0, 0})
	assert.ErrorIs(t, err, errkind.ErrDuplicateNode)
}

func TestAddNodesBatchAppliesAll(t *testing.T) {
	db := openTestDB(t)
	err := db.AddNodesBatch([]NodeInput{
		{ID: 1, Kind: 1},
		{ID: 2, Kind: 1},
		{ID: 3, Kind: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), db.store.NodeCount())
}

func TestAddEdgesBatchAppliesAll(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNodesBatch([]NodeInput{{ID: 1, Kind: 1}, {ID: 2, Kind: 1}}))
	err := db.AddEdgesBatch([]EdgeInput{{From: 1, To: 2, Label: 50}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), db.store.EdgeCount())
}

// TestCommitBatchRollsBackOnPartialFailure checks the all-or-nothing
// contract: a batch whose second op targets a nonexistent node must leave
// the first op's node un-inserted too.
func TestCommitBatchRollsBackOnPartialFailure(t *testing.T) {
	db := openTestDB(t)
	ops := []batch.Op{
		{Kind: wal.EntryNodeInsert, NodeID: 1, EntityKind: 1},
		{Kind: wal.EntryEdgeInsert, From: 1, To: 999, Label: 50},
	}

	err := db.CommitBatch(ops)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrNodeNotFound)
	assert.False(t, db.store.NodePool().Exists(1))
	assert.Equal(t, uint32(0), db.store.NodeCount())
}

func TestBeginTransactionCommit(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.BeginTransaction(ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, db.Commit(txn))
}

func TestBeginTransactionAbort(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.BeginTransaction(Serializable)
	require.NoError(t, err)
	require.NoError(t, db.Abort(txn))
}

func TestGetStatsReflectsEntityCounts(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))
	require.NoError(t, db.AddNode(2, 1, nil))
	require.NoError(t, db.AddEdge(1, 2, 50, nil))

	stats := db.GetStats()
	assert.Equal(t, uint32(2), stats.NodeCount)
	assert.Equal(t, uint32(1), stats.EdgeCount)
	assert.Greater(t, stats.WALEntriesWritten, uint64(0))
}

func TestGetStatsCounterDeltasDoNotDoubleCount(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))
	first := db.GetStats()
	second := db.GetStats()
	assert.Equal(t, first.WALEntriesWritten, second.WALEntriesWritten)
}

func TestGetMemoryStatsReportsFillRatios(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddNode(1, 1, nil))

	mem := db.GetMemoryStats()
	assert.Greater(t, mem.NodePoolFillRatio, 0.0)
	assert.NotNil(t, mem.LSMLevelSizes)
}

// TestReopenReplaysWAL verifies crash-recovery: data written before Close
// is visible again after a fresh Open against the same directory.
func TestReopenReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.AddNode(1, 7, []byte("hello")))
	require.NoError(t, db.AddNode(2, 7, nil))
	require.NoError(t, db.AddEdge(1, 2, 9, nil))
	require.NoError(t, db.Close())

	reopened, err := Open(testConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.FindNode(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), n.Kind)
	assert.Equal(t, []byte("hello"), n.PropsSlice())

	out := make([]uint32, 4)
	count, err := reopened.FindOutgoingEdges(1, out)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)
}

func TestOperationsFailAfterClose(t *testing.T) {
	db, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.AddNode(1, 1, nil)
	assert.ErrorIs(t, err, errkind.ErrClosed)
}
