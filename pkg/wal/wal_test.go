package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nen-co/nendb/pkg/config"
	"github.com/nen-co/nendb/pkg/errkind"
)

func testConfig(t *testing.T) config.WALConfig {
	cfg := config.Default().WAL
	cfg.Dir = t.TempDir()
	return cfg
}

// fakeApplier records applied mutations for replay assertions, without a
// real store.Store behind it.
type fakeApplier struct {
	nodes       map[uint64]bool
	edges       map[[3]uint64]bool
	embeddings  map[uint64][]float32
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		nodes:      map[uint64]bool{},
		edges:      map[[3]uint64]bool{},
		embeddings: map[uint64][]float32{},
	}
}

func (f *fakeApplier) AddNode(id uint64, kind uint8, props []byte) (uint32, error) {
	if f.nodes[id] {
		return 0, errkind.ErrDuplicateNode
	}
	f.nodes[id] = true
	return 0, nil
}

func (f *fakeApplier) AddEdge(from, to uint64, label uint16, props []byte) (uint32, error) {
	if !f.nodes[from] || !f.nodes[to] {
		return 0, errkind.ErrNodeNotFound
	}
	key := [3]uint64{from, to, uint64(label)}
	if f.edges[key] {
		return 0, errkind.ErrDuplicateEdge
	}
	f.edges[key] = true
	return 0, nil
}

func (f *fakeApplier) AddEmbedding(nodeID uint64, vector []float32) (uint32, error) {
	f.embeddings[nodeID] = vector
	return 0, nil
}

func (f *fakeApplier) DeleteNode(id uint64) error {
	delete(f.nodes, id)
	return nil
}

func (f *fakeApplier) DeleteEdge(from, to uint64, label uint16) error {
	delete(f.edges, [3]uint64{from, to, uint64(label)})
	return nil
}

func (f *fakeApplier) DeleteEmbedding(nodeID uint64) error {
	delete(f.embeddings, nodeID)
	return nil
}

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	w, err := Open(testConfig(t))
	require.NoError(t, err)
	defer w.Close()

	lsn1, err := w.Append(EntryNodeInsert, EncodeNodePayload(1, 0, nil))
	require.NoError(t, err)
	lsn2, err := w.Append(EntryNodeInsert, EncodeNodePayload(2, 0, nil))
	require.NoError(t, err)

	assert.Equal(t, lsn1+1, lsn2)
}

func TestRotationCreatesNewSegmentOnEntryLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEntriesPerSegment = 3
	w, err := Open(cfg)
	require.NoError(t, err)
	defer w.Close()

	for i := uint64(1); i <= 5; i++ {
		_, err := w.Append(EntryNodeInsert, EncodeNodePayload(i, 0, nil))
		require.NoError(t, err)
	}

	ids, err := existingSegmentIDs(cfg.Dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ids), 2)
}

func TestReplayAppliesNodesAndEdgesInOrder(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)

	_, err = w.Append(EntryNodeInsert, EncodeNodePayload(1, 0, nil))
	require.NoError(t, err)
	_, err = w.Append(EntryNodeInsert, EncodeNodePayload(2, 0, nil))
	require.NoError(t, err)
	_, err = w.Append(EntryEdgeInsert, EncodeEdgePayload(1, 2, 10, nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	app := newFakeApplier()
	stats, err := Replay(cfg.Dir, app)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EntriesApplied)
	assert.True(t, app.nodes[1])
	assert.True(t, app.edges[[3]uint64{1, 2, 10}])
}

func TestReplayDefersEdgeBeforeItsNode(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)

	// Edge written before either endpoint node: forces the deferred-edge
	// retry path (spec §4.3).
	_, err = w.Append(EntryEdgeInsert, EncodeEdgePayload(1, 2, 10, nil))
	require.NoError(t, err)
	_, err = w.Append(EntryNodeInsert, EncodeNodePayload(1, 0, nil))
	require.NoError(t, err)
	_, err = w.Append(EntryNodeInsert, EncodeNodePayload(2, 0, nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	app := newFakeApplier()
	stats, err := Replay(cfg.Dir, app)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeferredApplied)
	assert.Equal(t, 0, stats.EntriesUnsatisfied)
	assert.True(t, app.edges[[3]uint64{1, 2, 10}])
}

func TestReplaySkipsSegmentWithCorruptHeader(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)
	_, err = w.Append(EntryNodeInsert, EncodeNodePayload(1, 0, nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := segmentPath(cfg.Dir, 0)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	app := newFakeApplier()
	stats, err := Replay(cfg.Dir, app)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SegmentsSkipped)
	assert.Equal(t, 0, stats.EntriesApplied)
}

func TestEntryPayloadRoundTrip(t *testing.T) {
	p := EncodeEmbeddingPayload(7, []float32{0.5, -0.25, 1.0})
	id, vec, ok := decodeEmbeddingPayload(p)
	require.True(t, ok)
	assert.Equal(t, uint64(7), id)
	assert.Equal(t, []float32{0.5, -0.25, 1.0}, vec)
}

func TestWALDirHelper(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, filepath.Clean(cfg.Dir), filepath.Clean(w.Dir()))
}
