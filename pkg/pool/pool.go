// Package pool provides NenDB's static, pre-allocated slot allocators
// (spec §4.1): one fixed-capacity array of entity slots per entity kind,
// a LIFO free list, per-slot generation counters that invalidate stale
// references on free, and an open-addressing hash table mapping a
// caller-defined identity to a slot index.
//
// Unlike a sync.Pool-style allocation-smoothing pool (as used elsewhere in
// this codebase's ancestry for query-result scratch buffers), capacity is
// fixed at construction time and never grows: PoolExhausted is a normal,
// expected outcome once a pool fills, not a bug.
package pool

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/nen-co/nendb/pkg/errkind"
)

// Identifiable is implemented by any entity the pool can store: it
// exposes the caller-meaningful identity (a node id, or an edge's derived
// composite key) used for duplicate detection and GetByKey lookups.
type Identifiable interface {
	Key() uint64
}

// Ref is a generation-tagged slot reference. A Ref captured before a slot
// is freed becomes stale once its generation advances past Generation;
// Pool.Resolve detects this and returns ErrGone.
type Ref struct {
	Slot       uint32
	Generation uint32
}

// indexEntry is one open-addressing bucket. occupied distinguishes an
// empty bucket from one holding a valid (key, slot) pair; there is no
// tombstone state by design (spec §4.1/§9: deletions use backward-shift
// probing so tombstones are never needed).
type indexEntry struct {
	key      uint64
	slot     uint32
	occupied bool
}

// Pool is a fixed-capacity slot allocator for entities of type T.
type Pool[T Identifiable] struct {
	capacity   uint32
	slots      []T
	active     []bool
	generation []uint32
	freeList   []uint32 // LIFO stack of free slot indices
	usedCount  uint32

	table []indexEntry // size = 2*capacity, open addressing
}

// New constructs a Pool with the given fixed capacity. capacity must be >
// 0; it never changes afterward (Non-goals: no dynamic growth at runtime).
func New[T Identifiable](capacity uint32) *Pool[T] {
	if capacity == 0 {
		capacity = 1
	}
	p := &Pool[T]{
		capacity:   capacity,
		slots:      make([]T, capacity),
		active:     make([]bool, capacity),
		generation: make([]uint32, capacity),
		freeList:   make([]uint32, capacity),
		table:      make([]indexEntry, capacity*2),
	}
	// Free list initialised to {N-1, ..., 0} so the first Alloc yields
	// slot 0 (spec §4.1).
	for i := uint32(0); i < capacity; i++ {
		p.freeList[i] = capacity - 1 - i
	}
	return p
}

// Capacity returns the pool's fixed capacity.
func (p *Pool[T]) Capacity() uint32 { return p.capacity }

// UsedCount returns the number of active (non-free) slots.
func (p *Pool[T]) UsedCount() uint32 { return p.usedCount }

// FillRatio returns UsedCount/Capacity, for get_memory_stats.
func (p *Pool[T]) FillRatio() float64 {
	return float64(p.usedCount) / float64(p.capacity)
}

func (p *Pool[T]) mix(key uint64) uint64 {
	var b [8]byte
	b[0] = byte(key)
	b[1] = byte(key >> 8)
	b[2] = byte(key >> 16)
	b[3] = byte(key >> 24)
	b[4] = byte(key >> 32)
	b[5] = byte(key >> 40)
	b[6] = byte(key >> 48)
	b[7] = byte(key >> 56)
	return xxhash.Sum64(b[:])
}

func (p *Pool[T]) homeSlot(key uint64) int {
	return int(p.mix(key) % uint64(len(p.table)))
}

// findForRead returns the table index holding key, or -1 if not present.
func (p *Pool[T]) findForRead(key uint64) int {
	n := len(p.table)
	i := p.homeSlot(key)
	for start := i; ; {
		e := &p.table[i]
		if !e.occupied {
			return -1
		}
		if e.key == key {
			return i
		}
		i = (i + 1) % n
		if i == start {
			return -1
		}
	}
}

// insertIndex inserts (key, slot) into the open-addressing table via
// linear probing from key's home slot.
func (p *Pool[T]) insertIndex(key uint64, slot uint32) {
	n := len(p.table)
	i := p.homeSlot(key)
	for p.table[i].occupied {
		i = (i + 1) % n
	}
	p.table[i] = indexEntry{key: key, slot: slot, occupied: true}
}

// removeIndex deletes the occupied bucket at position i using backward-
// shift probing (Knuth's Algorithm R), so no tombstone is ever left
// behind: probe chains for other keys stay intact without a "deleted"
// marker, satisfying spec §3 invariant 4.
func (p *Pool[T]) removeIndex(i int) {
	n := len(p.table)
	p.table[i].occupied = false
	j := i
	for {
		j = (j + 1) % n
		if !p.table[j].occupied {
			return
		}
		k := p.homeSlot(p.table[j].key)
		if i <= j {
			if i < k && k <= j {
				continue
			}
		} else {
			if i < k || k <= j {
				continue
			}
		}
		p.table[i] = p.table[j]
		p.table[j].occupied = false
		i = j
	}
}

// Alloc stores value under key, returning the slot it was placed in.
// Fails with PoolExhausted once the pool is full, or with a duplicate
// error (via dup) if key is already live.
func (p *Pool[T]) Alloc(key uint64, value T, dup error) (uint32, error) {
	if p.findForRead(key) >= 0 {
		return 0, dup
	}
	if p.usedCount >= p.capacity {
		return 0, errkind.ErrPoolExhausted
	}
	slot := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]

	p.slots[slot] = value
	p.active[slot] = true
	p.usedCount++
	p.insertIndex(key, slot)
	return slot, nil
}

// Free releases slot back to the pool: clears its entry, bumps its
// generation (invalidating stale Refs), and pushes it onto the free list.
// A no-op for an already-free slot; ErrInvalidID for out-of-range.
func (p *Pool[T]) Free(slot uint32) error {
	if slot >= p.capacity {
		return errkind.ErrInvalidID
	}
	if !p.active[slot] {
		return nil
	}
	key := p.slots[slot].Key()
	if i := p.findForRead(key); i >= 0 {
		p.removeIndex(i)
	}
	var zero T
	p.slots[slot] = zero
	p.active[slot] = false
	p.generation[slot]++
	p.usedCount--
	p.freeList = append(p.freeList, slot)
	return nil
}

// Get returns the value at slot if it's active.
func (p *Pool[T]) Get(slot uint32) (T, bool) {
	var zero T
	if slot >= p.capacity || !p.active[slot] {
		return zero, false
	}
	return p.slots[slot], true
}

// GetByKey performs an open-addressing lookup for key, returning the
// stored value and its slot index.
func (p *Pool[T]) GetByKey(key uint64) (T, uint32, bool) {
	var zero T
	i := p.findForRead(key)
	if i < 0 {
		return zero, 0, false
	}
	e := p.table[i]
	return p.slots[e.slot], e.slot, true
}

// Exists reports whether key currently names a live slot.
func (p *Pool[T]) Exists(key uint64) bool {
	return p.findForRead(key) >= 0
}

// Ref returns a generation-tagged reference to slot, or ok=false if the
// slot is currently free.
func (p *Pool[T]) Ref(slot uint32) (Ref, bool) {
	if slot >= p.capacity || !p.active[slot] {
		return Ref{}, false
	}
	return Ref{Slot: slot, Generation: p.generation[slot]}, true
}

// Resolve dereferences ref, returning ErrGone if the slot's generation has
// advanced since ref was captured (i.e. the slot was freed and possibly
// reused).
func (p *Pool[T]) Resolve(ref Ref) (T, error) {
	var zero T
	if ref.Slot >= p.capacity {
		return zero, errkind.ErrInvalidID
	}
	if !p.active[ref.Slot] || p.generation[ref.Slot] != ref.Generation {
		return zero, fmt.Errorf("pool: stale reference: %w", ErrGone)
	}
	return p.slots[ref.Slot], nil
}

// ErrGone is returned by Resolve for a generation-tagged reference whose
// slot has since been freed (and possibly reallocated).
var ErrGone = fmt.Errorf("pool: slot reference is gone")

// ForEachActive calls fn for every active slot index in ascending order,
// stopping early if fn returns false. Used by SoA rebuilds and compaction.
func (p *Pool[T]) ForEachActive(fn func(slot uint32, value T) bool) {
	for i := uint32(0); i < p.capacity; i++ {
		if !p.active[i] {
			continue
		}
		if !fn(i, p.slots[i]) {
			return
		}
	}
}

// Generation returns the current generation counter for slot.
func (p *Pool[T]) Generation(slot uint32) uint32 {
	if slot >= p.capacity {
		return 0
	}
	return p.generation[slot]
}

// IsActive reports whether slot currently holds a live entity.
func (p *Pool[T]) IsActive(slot uint32) bool {
	return slot < p.capacity && p.active[slot]
}
