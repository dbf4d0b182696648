package batch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nen-co/nendb/pkg/config"
)

// shardCount bounds the LSM's internal sharding of each level, letting
// compaction merge disjoint key ranges concurrently.
const shardCount = 8

// versionedEntry is one compacted record: the last-seen payload for an
// entity id as of sequence seq (spec §4.5: "compaction merges by entity
// id, keeping the last-seen version").
type versionedEntry struct {
	seq       uint64
	tombstone bool
	payload   []byte
}

type levelShard struct {
	mu      sync.Mutex
	entries map[uint64]versionedEntry
}

// level is one LSM tier: L0 (smallest, freshest) through L(n-1).
type level struct {
	shards   [shardCount]*levelShard
	capacity int // compaction fires once shard-summed size exceeds this
}

func newLevel(capacity int) *level {
	l := &level{capacity: capacity}
	for i := range l.shards {
		l.shards[i] = &levelShard{entries: make(map[uint64]versionedEntry)}
	}
	return l
}

func (l *level) shardFor(id uint64) *levelShard {
	return l.shards[id%shardCount]
}

func (l *level) size() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// LSM is the server-side LSM-style compaction organisation batches land in
// after a successful flush (spec §4.5): a throughput optimisation only —
// the externally observable graph state is identical to applying every
// batch directly, since CosineTopK/filter/find operations read the live
// store, not the LSM. The LSM here models the entity-version history a
// production engine would use to decide what to compact, grounded on the
// same level-by-level merge structure as the teacher's tiered storage
// engines (pkg/storage's pluggable Engine backends, one of which is LSM-
// shaped Badger).
type LSM struct {
	cfg    config.BatchConfig
	levels []*level
	seq    atomic.Uint64
}

// NewLSM constructs an LSM with cfg.LSMLevels tiers, each double the
// previous level's compaction threshold.
func NewLSM(cfg config.BatchConfig) *LSM {
	levels := make([]*level, cfg.LSMLevels)
	capacity := cfg.CompactionThreshold
	for i := range levels {
		levels[i] = newLevel(capacity)
		capacity *= 2
	}
	return &LSM{cfg: cfg, levels: levels}
}

// Put records entityID's latest payload (or tombstone, for a delete) in L0.
func (m *LSM) Put(entityID uint64, payload []byte, tombstone bool) {
	seq := m.seq.Add(1)
	shard := m.levels[0].shardFor(entityID)
	shard.mu.Lock()
	shard.entries[entityID] = versionedEntry{seq: seq, tombstone: tombstone, payload: payload}
	shard.mu.Unlock()
}

// Get returns the most recent non-tombstoned payload for entityID across
// every level, newest level first, or ok=false if absent or tombstoned.
func (m *LSM) Get(entityID uint64) (payload []byte, ok bool) {
	var best versionedEntry
	found := false
	for _, lvl := range m.levels {
		shard := lvl.shardFor(entityID)
		shard.mu.Lock()
		if v, present := shard.entries[entityID]; present && (!found || v.seq > best.seq) {
			best = v
			found = true
		}
		shard.mu.Unlock()
	}
	if !found || best.tombstone {
		return nil, false
	}
	return best.payload, true
}

// MaybeCompact merges any level whose size exceeds its capacity down into
// the next level, cascading until every level (but the last) is back under
// threshold. Each level's shards merge concurrently via errgroup, since
// disjoint shards touch disjoint key ranges.
func (m *LSM) MaybeCompact(ctx context.Context) error {
	for i := 0; i < len(m.levels)-1; i++ {
		cur := m.levels[i]
		if cur.size() <= cur.capacity {
			continue
		}
		next := m.levels[i+1]
		if err := compactInto(ctx, cur, next); err != nil {
			return err
		}
	}
	return nil
}

// compactInto drains every shard of cur into the matching shard of next,
// keeping the higher-seq version on conflict, then clears cur's shards.
func compactInto(ctx context.Context, cur, next *level) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < shardCount; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			curShard := cur.shards[i]
			nextShard := next.shards[i]

			curShard.mu.Lock()
			drained := curShard.entries
			curShard.entries = make(map[uint64]versionedEntry)
			curShard.mu.Unlock()

			nextShard.mu.Lock()
			defer nextShard.mu.Unlock()
			for id, v := range drained {
				if existing, ok := nextShard.entries[id]; !ok || v.seq > existing.seq {
					nextShard.entries[id] = v
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Levels reports each level's current entry count, for get_memory_stats.
func (m *LSM) Levels() []int {
	out := make([]int, len(m.levels))
	for i, lvl := range m.levels {
		out[i] = lvl.size()
	}
	return out
}
