package concurrency

import (
	"encoding/binary"

	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/wal"
)

// IsolationLevel is one of the four standard SQL isolation levels (spec
// §4.4). The core's default is ReadCommitted.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "read_uncommitted"
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}

// UndoOp reverts one mutation already applied within a transaction.
type UndoOp func() error

// txnIDs hands out this process's transaction identifiers (spec §6.2's
// txn_begin/commit/abort payload is a plain `u64 txn_id`, a separate space
// from node/edge ids drawn from a caller's own IDGenerator).
var txnIDs IDGenerator

// Transaction owns a begin LSN, an isolation level, and the undo stack
// needed to unwind an aborted batch (spec §4.4/§4.5).
type Transaction struct {
	ID        uint64
	BeginLSN  uint64
	Isolation IsolationLevel

	undo      []UndoOp
	committed bool
	aborted   bool
}

func encodeTxnID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return buf
}

// Begin starts a new transaction at beginLSN with the given isolation
// level, appending a txn_begin WAL record.
func Begin(w *wal.WAL, beginLSN uint64, isolation IsolationLevel) (*Transaction, error) {
	id, err := txnIDs.Next()
	if err != nil {
		return nil, err
	}
	txn := &Transaction{ID: id, BeginLSN: beginLSN, Isolation: isolation}
	if w != nil {
		if _, err := w.Append(wal.EntryTxnBegin, encodeTxnID(txn.ID)); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

// RecordUndo pushes fn onto the undo stack; Abort runs the stack in
// reverse (last mutation undone first).
func (t *Transaction) RecordUndo(fn UndoOp) {
	t.undo = append(t.undo, fn)
}

// Commit appends a txn_commit WAL record. A committed or aborted
// transaction cannot be committed again.
func (t *Transaction) Commit(w *wal.WAL) error {
	if t.committed || t.aborted {
		return errkind.Wrap(errkind.ErrInvalidConfiguration, "transaction %d already finished", t.ID)
	}
	if w != nil {
		if _, err := w.Append(wal.EntryTxnCommit, encodeTxnID(t.ID)); err != nil {
			return err
		}
	}
	t.committed = true
	return nil
}

// Abort runs the undo stack in reverse and appends a txn_abort WAL record.
// The first undo error is returned after every remaining undo op has still
// been attempted, so a single failing undo doesn't leave the rest of the
// batch's mutations in place.
func (t *Transaction) Abort(w *wal.WAL) error {
	if t.committed || t.aborted {
		return errkind.Wrap(errkind.ErrInvalidConfiguration, "transaction %d already finished", t.ID)
	}
	var firstErr error
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.aborted = true
	if w != nil {
		if _, err := w.Append(wal.EntryTxnAbort, encodeTxnID(t.ID)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
