package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nen-co/nendb/pkg/errkind"
)

// entity is a minimal Identifiable used only by these tests.
type entity struct {
	id  uint64
	val int
}

func (e entity) Key() uint64 { return e.id }

var errDupEntity = errors.New("duplicate entity")

func TestAllocAndGet(t *testing.T) {
	p := New[entity](4)

	t.Run("alloc fills slots in LIFO order starting at 0", func(t *testing.T) {
		slot, err := p.Alloc(100, entity{id: 100, val: 1}, errDupEntity)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), slot)

		got, ok := p.Get(slot)
		require.True(t, ok)
		assert.Equal(t, 1, got.val)
	})

	t.Run("GetByKey finds the slot by identity", func(t *testing.T) {
		val, slot, ok := p.GetByKey(100)
		require.True(t, ok)
		assert.Equal(t, uint32(0), slot)
		assert.Equal(t, 1, val.val)
	})

	t.Run("Exists reflects live keys only", func(t *testing.T) {
		assert.True(t, p.Exists(100))
		assert.False(t, p.Exists(999))
	})
}

func TestAllocDuplicateRejected(t *testing.T) {
	p := New[entity](2)
	_, err := p.Alloc(1, entity{id: 1}, errDupEntity)
	require.NoError(t, err)

	_, err = p.Alloc(1, entity{id: 1}, errDupEntity)
	assert.ErrorIs(t, err, errDupEntity)
}

func TestAllocExhaustion(t *testing.T) {
	p := New[entity](2)
	_, err := p.Alloc(1, entity{id: 1}, errDupEntity)
	require.NoError(t, err)
	_, err = p.Alloc(2, entity{id: 2}, errDupEntity)
	require.NoError(t, err)

	_, err = p.Alloc(3, entity{id: 3}, errDupEntity)
	assert.ErrorIs(t, err, errkind.ErrPoolExhausted)
}

func TestFreeThenReallocRoundTrip(t *testing.T) {
	p := New[entity](2)
	slotA, err := p.Alloc(1, entity{id: 1, val: 11}, errDupEntity)
	require.NoError(t, err)

	require.NoError(t, p.Free(slotA))
	assert.False(t, p.Exists(1))
	assert.Equal(t, uint32(0), p.UsedCount())

	// The freed slot is reusable for a brand new key.
	slotB, err := p.Alloc(2, entity{id: 2, val: 22}, errDupEntity)
	require.NoError(t, err)
	assert.Equal(t, slotA, slotB)

	val, ok := p.Get(slotB)
	require.True(t, ok)
	assert.Equal(t, 22, val.val)
}

func TestFreeIsIdempotentAndRejectsOutOfRange(t *testing.T) {
	p := New[entity](2)
	slot, err := p.Alloc(1, entity{id: 1}, errDupEntity)
	require.NoError(t, err)

	require.NoError(t, p.Free(slot))
	// Freeing an already-free slot is a no-op, not an error.
	assert.NoError(t, p.Free(slot))

	assert.ErrorIs(t, p.Free(p.Capacity()+1), errkind.ErrInvalidID)
}

func TestGenerationInvalidatesStaleRefs(t *testing.T) {
	p := New[entity](2)
	slot, err := p.Alloc(1, entity{id: 1, val: 7}, errDupEntity)
	require.NoError(t, err)

	ref, ok := p.Ref(slot)
	require.True(t, ok)

	val, err := p.Resolve(ref)
	require.NoError(t, err)
	assert.Equal(t, 7, val.val)

	require.NoError(t, p.Free(slot))
	_, err = p.Alloc(2, entity{id: 2, val: 9}, errDupEntity)
	require.NoError(t, err)

	// ref was captured before the free; the slot's generation has since
	// advanced even though it was reused by a different key.
	_, err = p.Resolve(ref)
	assert.ErrorIs(t, err, ErrGone)
}

func TestForEachActiveVisitsOnlyLiveSlots(t *testing.T) {
	p := New[entity](4)
	_, err := p.Alloc(1, entity{id: 1, val: 1}, errDupEntity)
	require.NoError(t, err)
	slot2, err := p.Alloc(2, entity{id: 2, val: 2}, errDupEntity)
	require.NoError(t, err)
	_, err = p.Alloc(3, entity{id: 3, val: 3}, errDupEntity)
	require.NoError(t, err)
	require.NoError(t, p.Free(slot2))

	seen := map[uint64]bool{}
	p.ForEachActive(func(slot uint32, v entity) bool {
		seen[v.id] = true
		return true
	})

	assert.True(t, seen[1])
	assert.False(t, seen[2])
	assert.True(t, seen[3])
	assert.Len(t, seen, 2)
}

// TestIndexSurvivesManyCollisionsAndDeletes exercises the backward-shift
// deletion path (removeIndex) under heavy probe-chain collisions: every
// surviving key must remain findable after interleaved deletes, which would
// fail if a tombstone-free removal ever broke a probe chain.
func TestIndexSurvivesManyCollisionsAndDeletes(t *testing.T) {
	const capacity = 64
	p := New[entity](capacity)

	keys := make([]uint64, 0, capacity)
	for i := uint64(1); i <= capacity; i++ {
		_, err := p.Alloc(i, entity{id: i, val: int(i)}, errDupEntity)
		require.NoError(t, err)
		keys = append(keys, i)
	}

	// Delete every third key, then verify all remaining keys are still
	// reachable through the open-addressing table.
	for i, k := range keys {
		if i%3 == 0 {
			_, slot, ok := p.GetByKey(k)
			require.True(t, ok)
			require.NoError(t, p.Free(slot))
		}
	}

	for i, k := range keys {
		_, _, ok := p.GetByKey(k)
		if i%3 == 0 {
			assert.False(t, ok, "key %d should have been deleted", k)
		} else {
			assert.True(t, ok, "key %d should still be findable", k)
		}
	}
}

func TestFillRatio(t *testing.T) {
	p := New[entity](4)
	assert.Equal(t, float64(0), p.FillRatio())

	_, err := p.Alloc(1, entity{id: 1}, errDupEntity)
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.FillRatio())
}
