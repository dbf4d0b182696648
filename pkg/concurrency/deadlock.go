package concurrency

import (
	"sort"
	"sync"

	"github.com/nen-co/nendb/pkg/errkind"
)

// DeadlockDetector enforces a global lock ordering (spec §4.4): a holder
// (goroutine, transaction, or any caller-chosen token) may not acquire a
// lock while it already holds a strictly higher-numbered one. All
// multi-entity operations are expected to sort their lock targets first
// (SortTargets) so operations taken in any order still acquire locks low
// id before high id.
//
// Grounded on apoc/lock's global-mutex-guarded map of per-entity locks,
// generalized from "one map of mutexes" to "one map of held-lock-id sets
// per holder" plus the ordering check that package doesn't perform.
type DeadlockDetector struct {
	mu   sync.Mutex
	held map[string]map[uint64]bool
}

// NewDeadlockDetector constructs an empty detector.
func NewDeadlockDetector() *DeadlockDetector {
	return &DeadlockDetector{held: make(map[string]map[uint64]bool)}
}

// Acquire records that holder is about to take lockID, rejecting with
// ErrDeadlockPotential if holder already holds a lock numbered above
// lockID (which would violate the global ascending order).
func (d *DeadlockDetector) Acquire(holder string, lockID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.held[holder]
	for id := range set {
		if id > lockID {
			return errkind.ErrDeadlockPotential
		}
	}
	if set == nil {
		set = make(map[uint64]bool)
		d.held[holder] = set
	}
	set[lockID] = true
	return nil
}

// Release records that holder no longer holds lockID.
func (d *DeadlockDetector) Release(holder string, lockID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.held[holder]
	if set == nil {
		return
	}
	delete(set, lockID)
	if len(set) == 0 {
		delete(d.held, holder)
	}
}

// HeldBy returns the lock ids currently held by holder, for diagnostics.
func (d *DeadlockDetector) HeldBy(holder string) []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.held[holder]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortTargets returns ids sorted ascending, the order every multi-entity
// operation (e.g. edge insert's {from, to}) must acquire locks in to
// respect the global ordering.
func SortTargets(ids ...uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
