// Package batch implements NenDB's batch processor (spec §4.5): a
// client-side queue that accumulates operations up to a size/time/count
// threshold before flushing them as one atomic unit, and a server-side
// LSM-style compaction organisation (lsm.go) the flushed batches land in.
//
// Grounded on the teacher's EmbedWorker (pkg/nornicdb/embed_queue.go): a
// config struct with documented defaults, a mutex-guarded queue plus
// stats, and a background timer goroutine — generalized from "one
// background scan loop" to "flush on size, time, or explicit Flush()".
package batch

import (
	"sync"
	"time"

	"github.com/nen-co/nendb/pkg/config"
	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/wal"
)

// Op is one queued mutation. Kind selects which fields are meaningful,
// reusing wal.EntryType so the batcher and the WAL agree on vocabulary
// without a second parallel enum.
type Op struct {
	Kind       wal.EntryType
	NodeID     uint64
	EntityKind uint8
	From, To   uint64
	Label      uint16
	Props      []byte
	Vector     []float32
}

// FlushFunc applies a whole batch atomically: either every op in ops takes
// effect or none do. The caller (the C8 facade) is responsible for the
// write-lock-then-WAL-then-memory sequencing and for rolling back via its
// transaction's undo log on partial failure (spec §4.5's flush contract);
// Batcher only owns queueing and threshold policy.
type FlushFunc func(ops []Op) error

// Batcher accumulates operations and flushes them once max_batch_size,
// max_batch_wait, or auto_flush_threshold is reached.
type Batcher struct {
	cfg   config.BatchConfig
	flush FlushFunc

	mu        sync.Mutex
	queue     []Op
	threshold int // current auto-flush threshold; adaptive batching mutates this
	timer     *time.Timer
	closed    bool

	lastFlushDur time.Duration
}

// NewBatcher constructs a Batcher with the given policy and flush callback.
func NewBatcher(cfg config.BatchConfig, flush FlushFunc) *Batcher {
	b := &Batcher{cfg: cfg, flush: flush, threshold: cfg.AutoFlushThreshold}
	if cfg.MaxBatchWait > 0 {
		b.timer = time.AfterFunc(cfg.MaxBatchWait, b.onTimerFire)
	}
	return b
}

// Enqueue appends op to the pending batch, triggering a flush if the
// queue has reached its size threshold. Returns ErrQueueOverflow if the
// queue is at cfg.QueueCapacity and cfg.BlockOnFullQueue is false.
func (b *Batcher) Enqueue(op Op) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errkind.ErrClosed
	}
	for len(b.queue) >= b.cfg.QueueCapacity {
		if !b.cfg.BlockOnFullQueue {
			b.mu.Unlock()
			return errkind.ErrQueueOverflow
		}
		b.mu.Unlock()
		time.Sleep(time.Millisecond)
		b.mu.Lock()
	}
	b.queue = append(b.queue, op)
	full := len(b.queue) >= b.threshold || len(b.queue) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if full {
		return b.Flush()
	}
	return nil
}

// Flush applies every queued op via FlushFunc and clears the queue.
// Homogeneous batching (spec §4.5) reorders the queue into contiguous
// per-Kind runs before the (single) call to flush, so the callback sees
// better locality; it does not split the call, since FlushFunc's
// atomicity contract only holds within one call.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return nil
	}
	ops := b.queue
	b.queue = nil
	b.resetTimerLocked()
	b.mu.Unlock()

	start := time.Now()
	var err error
	if b.cfg.EnableHomogeneousBatching {
		err = b.flushHomogeneous(ops)
	} else {
		err = b.flush(ops)
	}
	elapsed := time.Since(start)

	b.mu.Lock()
	b.lastFlushDur = elapsed
	if b.cfg.EnableAdaptiveBatching {
		b.adjustThresholdLocked(elapsed)
	}
	b.mu.Unlock()

	return err
}

// flushHomogeneous reorders ops so same-Kind entries are contiguous
// (preserving each kind-group's relative order), then flushes the
// reordered slice in a single FlushFunc call. Grouping, not splitting,
// is the point: FlushFunc applies its batch as one atomic unit (spec
// §4.5's "all operations in a batch either apply or none do"), so
// issuing one call per kind-group would let an earlier group's already-
// applied mutations survive a later group's failure.
func (b *Batcher) flushHomogeneous(ops []Op) error {
	groups := make(map[wal.EntryType][]Op)
	var order []wal.EntryType
	for _, op := range ops {
		if _, seen := groups[op.Kind]; !seen {
			order = append(order, op.Kind)
		}
		groups[op.Kind] = append(groups[op.Kind], op)
	}
	reordered := make([]Op, 0, len(ops))
	for _, kind := range order {
		reordered = append(reordered, groups[kind]...)
	}
	return b.flush(reordered)
}

// adaptiveTarget is the fixed flush-duration target adaptive batching
// compares each flush against: a flush slower than it halves the threshold
// (while the threshold is above 64), and a flush faster than half of it
// doubles the threshold (capped at MaxBatchSize). Each decision uses that
// single flush's duration; no average is kept and the target never moves.
const adaptiveTarget = 5 * time.Millisecond

func (b *Batcher) adjustThresholdLocked(elapsed time.Duration) {
	switch {
	case elapsed > adaptiveTarget && b.threshold > 64:
		b.threshold /= 2
	case elapsed < adaptiveTarget/2 && b.threshold < b.cfg.MaxBatchSize:
		b.threshold *= 2
		if b.threshold > b.cfg.MaxBatchSize {
			b.threshold = b.cfg.MaxBatchSize
		}
	}
}

func (b *Batcher) onTimerFire() {
	_ = b.Flush()
	b.mu.Lock()
	b.resetTimerLocked()
	b.mu.Unlock()
}

func (b *Batcher) resetTimerLocked() {
	if b.timer != nil && !b.closed {
		b.timer.Reset(b.cfg.MaxBatchWait)
	}
}

// Close flushes any pending ops and stops the auto-flush timer.
func (b *Batcher) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	return b.Flush()
}

// Threshold returns the current auto-flush threshold (mutated over time by
// adaptive batching), for get_memory_stats.
func (b *Batcher) Threshold() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}
