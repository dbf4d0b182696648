package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nen-co/nendb/pkg/errkind"
)

func TestAddNodeRejectsZeroID(t *testing.T) {
	s := New(8, 8, 8)
	_, err := s.AddNode(0, 1, nil)
	assert.ErrorIs(t, err, errkind.ErrInvalidID)
}

func TestAddEdgeRequiresLiveEndpoints(t *testing.T) {
	s := New(8, 8, 8)
	_, err := s.AddEdge(1, 2, 10, nil)
	assert.ErrorIs(t, err, errkind.ErrNodeNotFound)

	_, err = s.AddNode(1, 0, nil)
	require.NoError(t, err)
	_, err = s.AddEdge(1, 2, 10, nil)
	assert.ErrorIs(t, err, errkind.ErrNodeNotFound)
}

func TestFilterNodesByKind(t *testing.T) {
	s := New(16, 16, 16)
	_, err := s.AddNode(1, 5, nil)
	require.NoError(t, err)
	_, err = s.AddNode(2, 7, nil)
	require.NoError(t, err)
	_, err = s.AddNode(3, 5, nil)
	require.NoError(t, err)

	out := make([]uint32, 16)
	n := s.FilterNodesByKind(5, out)
	assert.Equal(t, uint32(2), n)
}

func TestFilterRespectsOutCapacity(t *testing.T) {
	s := New(16, 16, 16)
	for i := uint64(1); i <= 5; i++ {
		_, err := s.AddNode(i, 9, nil)
		require.NoError(t, err)
	}
	out := make([]uint32, 2)
	n := s.FilterNodesByKind(9, out)
	assert.Equal(t, uint32(2), n)
}

func TestDeleteNodeClearsActiveWithoutCompaction(t *testing.T) {
	s := New(16, 16, 16)
	_, err := s.AddNode(1, 5, nil)
	require.NoError(t, err)
	slot2, err := s.AddNode(2, 5, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(2))
	assert.False(t, s.nodeActive[slot2])

	out := make([]uint32, 16)
	n := s.FilterNodesByKind(5, out)
	assert.Equal(t, uint32(1), n)
}

func TestFindEdgesByNodeDirectionality(t *testing.T) {
	s := New(16, 16, 16)
	_, err := s.AddNode(1, 0, nil)
	require.NoError(t, err)
	_, err = s.AddNode(2, 0, nil)
	require.NoError(t, err)
	_, err = s.AddNode(3, 0, nil)
	require.NoError(t, err)

	_, err = s.AddEdge(1, 2, 10, nil)
	require.NoError(t, err)
	_, err = s.AddEdge(3, 1, 10, nil)
	require.NoError(t, err)

	out := make([]uint32, 16)
	outgoing := s.FindEdgesByNode(1, true, out)
	assert.Equal(t, uint32(1), outgoing)

	incoming := s.FindEdgesByNode(1, false, out)
	assert.Equal(t, uint32(1), incoming)
}

func TestDeleteEdgeByIdentity(t *testing.T) {
	s := New(16, 16, 16)
	_, err := s.AddNode(1, 0, nil)
	require.NoError(t, err)
	_, err = s.AddNode(2, 0, nil)
	require.NoError(t, err)
	_, err = s.AddEdge(1, 2, 10, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteEdge(1, 2, 10))
	assert.ErrorIs(t, s.DeleteEdge(1, 2, 10), errkind.ErrEdgeNotFound)
}

func TestEmbeddingAtMostOnePerNode(t *testing.T) {
	s := New(16, 16, 16)
	_, err := s.AddNode(1, 0, nil)
	require.NoError(t, err)

	_, err = s.AddEmbedding(1, []float32{1, 0, 0})
	require.NoError(t, err)

	_, err = s.AddEmbedding(1, []float32{0, 1, 0})
	assert.ErrorIs(t, err, errkind.ErrDuplicateNode)
}

func TestCosineTopKOrdersByDescendingScore(t *testing.T) {
	s := New(16, 16, 16)
	for i := uint64(1); i <= 4; i++ {
		_, err := s.AddNode(i, 0, nil)
		require.NoError(t, err)
	}
	_, err := s.AddEmbedding(1, []float32{1, 0})
	require.NoError(t, err)
	_, err = s.AddEmbedding(2, []float32{0.9, 0.1})
	require.NoError(t, err)
	_, err = s.AddEmbedding(3, []float32{0, 1})
	require.NoError(t, err)
	_, err = s.AddEmbedding(4, []float32{-1, 0})
	require.NoError(t, err)

	top := s.CosineTopK([]float32{1, 0}, 2)
	require.Len(t, top, 2)
	assert.Equal(t, uint64(1), top[0].NodeID)
	assert.Equal(t, uint64(2), top[1].NodeID)
}

func TestCosineTopKZeroKReturnsNil(t *testing.T) {
	s := New(4, 4, 4)
	assert.Nil(t, s.CosineTopK([]float32{1}, 0))
}
