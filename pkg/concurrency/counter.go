package concurrency

import (
	"math"
	"sync/atomic"

	"github.com/nen-co/nendb/pkg/errkind"
)

// Counter is a monotonic atomic u64 (spec §4.4's AtomicCounter).
type Counter struct {
	value atomic.Uint64
}

// Increment adds 1 and returns the new value.
func (c *Counter) Increment() uint64 { return c.value.Add(1) }

// Load returns the current value without modifying it.
func (c *Counter) Load() uint64 { return c.value.Load() }

// IDGenerator hands out monotonically increasing ids starting at 1, never
// wrapping back to 0 (spec §4.4's AtomicIdGenerator): lifetime is the
// process's, matching the teacher's process-scoped sequence counters
// (pkg/storage/wal.go's WAL.sequence).
type IDGenerator struct {
	value atomic.Uint64
}

// Next returns the next id (>= 1). Returns ErrQueueOverflow in the
// practically-unreachable case the counter has exhausted the u64 space,
// rather than silently wrapping to 0.
func (g *IDGenerator) Next() (uint64, error) {
	if g.value.Load() == math.MaxUint64 {
		return 0, errkind.ErrQueueOverflow
	}
	return g.value.Add(1), nil
}

// Load returns the most recently issued id (0 if none issued yet).
func (g *IDGenerator) Load() uint64 { return g.value.Load() }
