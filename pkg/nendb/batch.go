package nendb

import (
	"context"

	"github.com/nen-co/nendb/pkg/batch"
	"github.com/nen-co/nendb/pkg/concurrency"
	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/model"
	"github.com/nen-co/nendb/pkg/wal"
)

// AddNodesBatch enqueues every node for batched insertion, flushing once
// all of them have been queued (spec §4.7's add_nodes_batch). If batching
// is disabled, nodes are applied immediately via the same transactional
// path commit_batch uses.
func (db *DB) AddNodesBatch(nodes []NodeInput) error {
	ops := make([]batch.Op, len(nodes))
	for i, n := range nodes {
		ops[i] = batch.Op{Kind: wal.EntryNodeInsert, NodeID: n.ID, EntityKind: n.Kind, Props: n.Props}
	}
	return db.CommitBatch(ops)
}

// AddEdgesBatch is AddNodesBatch's edge counterpart (spec §4.7's
// add_edges_batch).
func (db *DB) AddEdgesBatch(edges []EdgeInput) error {
	ops := make([]batch.Op, len(edges))
	for i, e := range edges {
		ops[i] = batch.Op{Kind: wal.EntryEdgeInsert, From: e.From, To: e.To, Label: e.Label, Props: e.Props}
	}
	return db.CommitBatch(ops)
}

// NodeInput is one row of AddNodesBatch's input.
type NodeInput struct {
	ID    uint64
	Kind  uint8
	Props []byte
}

// EdgeInput is one row of AddEdgesBatch's input.
type EdgeInput struct {
	From, To uint64
	Label    uint16
	Props    []byte
}

// CommitBatch applies ops as a single transaction: either every op
// succeeds, or every already-applied op in this batch is undone and the
// first error encountered is returned (spec §9 open question 1). When the
// batch processor (C6) is enabled, ops are routed through its queue so
// homogeneous/adaptive batching policy applies; otherwise applyOps runs
// immediately.
func (db *DB) CommitBatch(ops []batch.Op) error {
	if db.batcher != nil {
		for _, op := range ops {
			if err := db.batcher.Enqueue(op); err != nil {
				return db.recordErr(err)
			}
		}
		return db.recordErr(db.batcher.Flush())
	}
	return db.recordErr(db.applyOps(ops))
}

// applyOps is the batcher's FlushFunc (and CommitBatch's direct path when
// batching is disabled): it begins a transaction, applies every op under
// the write lock, and aborts-with-undo on the first failure.
func (db *DB) applyOps(ops []batch.Op) error {
	if err := db.lockWrite(); err != nil {
		return err
	}
	defer db.rw.Unlock()
	if db.closed.Load() {
		return errkind.ErrClosed
	}

	ids := make([]uint64, len(ops))
	for i, op := range ops {
		ids[i] = entityIDOf(op)
	}
	for _, id := range concurrency.SortTargets(ids...) {
		if err := db.deadlock.Acquire("batch", id); err != nil {
			db.metrics.DeadlocksAvoided.Inc()
			return err
		}
	}
	defer func() {
		for _, id := range ids {
			db.deadlock.Release("batch", id)
		}
	}()

	beginLSN := uint64(0)
	if db.wal != nil {
		beginLSN = db.wal.Stats().NextLSN
	}
	txn, err := concurrency.Begin(db.wal, beginLSN, concurrency.ReadCommitted)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := db.applyOneLocked(txn, op); err != nil {
			db.metrics.BatchesRolledBack.Inc()
			abortErr := txn.Abort(db.wal)
			if abortErr != nil {
				db.log.Error().Err(abortErr).Msg("batch abort undo failed")
			}
			return err
		}
	}

	if err := txn.Commit(db.wal); err != nil {
		return err
	}
	db.metrics.BatchesFlushed.Inc()
	if err := db.lsm.MaybeCompact(context.Background()); err != nil {
		db.log.Warn().Err(err).Msg("lsm compaction failed")
	} else {
		db.metrics.CompactionsRun.Inc()
	}
	return nil
}

// applyOneLocked applies a single op (the caller already holds the write
// lock) and records an undo action on txn for it.
func (db *DB) applyOneLocked(txn *concurrency.Transaction, op batch.Op) error {
	switch op.Kind {
	case wal.EntryNodeInsert:
		if op.NodeID == 0 {
			return errkind.ErrInvalidID
		}
		if db.store.NodePool().Exists(op.NodeID) {
			return errkind.ErrDuplicateNode
		}
		if db.wal != nil {
			if _, err := db.wal.Append(wal.EntryNodeInsert, wal.EncodeNodePayload(op.NodeID, op.EntityKind, op.Props)); err != nil {
				return err
			}
		}
		if _, err := db.store.AddNode(op.NodeID, op.EntityKind, op.Props); err != nil {
			return err
		}
		db.lsm.Put(op.NodeID, wal.EncodeNodePayload(op.NodeID, op.EntityKind, op.Props), false)
		id := op.NodeID
		txn.RecordUndo(func() error { return db.store.DeleteNode(id) })
		return nil

	case wal.EntryNodeDelete:
		before, _, ok := db.store.NodePool().GetByKey(op.NodeID)
		if !ok {
			return errkind.ErrNodeNotFound
		}
		if db.wal != nil {
			if _, err := db.wal.Append(wal.EntryNodeDelete, wal.EncodeNodeDeletePayload(op.NodeID)); err != nil {
				return err
			}
		}
		if err := db.store.DeleteNode(op.NodeID); err != nil {
			return err
		}
		db.lsm.Put(op.NodeID, nil, true)
		txn.RecordUndo(func() error {
			_, err := db.store.AddNode(before.ID, before.Kind, before.PropsSlice())
			return err
		})
		return nil

	case wal.EntryEdgeInsert:
		if op.From == op.To {
			return errkind.Wrap(errkind.ErrInvalidID, "nendb: self-edge on node %d", op.From)
		}
		if !db.store.NodePool().Exists(op.From) || !db.store.NodePool().Exists(op.To) {
			return errkind.ErrNodeNotFound
		}
		key := model.EdgeKey(op.From, op.To, op.Label)
		if db.store.EdgePool().Exists(key) {
			return errkind.ErrDuplicateEdge
		}
		if db.wal != nil {
			if _, err := db.wal.Append(wal.EntryEdgeInsert, wal.EncodeEdgePayload(op.From, op.To, op.Label, op.Props)); err != nil {
				return err
			}
		}
		if _, err := db.store.AddEdge(op.From, op.To, op.Label, op.Props); err != nil {
			return err
		}
		db.lsm.Put(key, wal.EncodeEdgePayload(op.From, op.To, op.Label, op.Props), false)
		from, to, label := op.From, op.To, op.Label
		txn.RecordUndo(func() error { return db.store.DeleteEdge(from, to, label) })
		return nil

	case wal.EntryEdgeDelete:
		key := model.EdgeKey(op.From, op.To, op.Label)
		before, _, ok := db.store.EdgePool().GetByKey(key)
		if !ok {
			return errkind.ErrEdgeNotFound
		}
		if db.wal != nil {
			if _, err := db.wal.Append(wal.EntryEdgeDelete, wal.EncodeEdgeDeletePayload(op.From, op.To, op.Label)); err != nil {
				return err
			}
		}
		if err := db.store.DeleteEdge(op.From, op.To, op.Label); err != nil {
			return err
		}
		db.lsm.Put(key, nil, true)
		txn.RecordUndo(func() error {
			_, err := db.store.AddEdge(before.From, before.To, before.Label, before.PropsSlice())
			return err
		})
		return nil

	case wal.EntryEmbeddingInsert:
		if !db.store.NodePool().Exists(op.NodeID) {
			return errkind.ErrNodeNotFound
		}
		if db.store.EmbeddingPool().Exists(op.NodeID) {
			return errkind.ErrDuplicateNode
		}
		if db.wal != nil {
			if _, err := db.wal.Append(wal.EntryEmbeddingInsert, wal.EncodeEmbeddingPayload(op.NodeID, op.Vector)); err != nil {
				return err
			}
		}
		if _, err := db.store.AddEmbedding(op.NodeID, op.Vector); err != nil {
			return err
		}
		nodeID := op.NodeID
		txn.RecordUndo(func() error { return db.store.DeleteEmbedding(nodeID) })
		return nil

	default:
		return errkind.Wrap(errkind.ErrInvalidConfiguration, "nendb: unsupported batch op kind %s", op.Kind)
	}
}

func entityIDOf(op batch.Op) uint64 {
	switch op.Kind {
	case wal.EntryEdgeInsert, wal.EntryEdgeDelete:
		return model.EdgeKey(op.From, op.To, op.Label)
	default:
		return op.NodeID
	}
}
