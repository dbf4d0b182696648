package nendb

import "github.com/nen-co/nendb/pkg/concurrency"

// Txn is a handle to an in-flight transaction returned by BeginTransaction
// (spec §6.3's begin_transaction/commit/abort). Callers record no undo
// actions themselves — RecordUndo is reserved for the facade's own batch
// path (pkg/nendb/batch.go); direct Txn users get an empty undo stack, so
// Abort on a hand-driven transaction only emits the WAL's txn_abort marker.
type Txn struct {
	inner *concurrency.Transaction
}

// BeginTransaction starts a transaction at the WAL's current LSN with the
// given isolation level (spec §4.4's four levels).
func (db *DB) BeginTransaction(isolation IsolationLevel) (*Txn, error) {
	beginLSN := uint64(0)
	if db.wal != nil {
		beginLSN = db.wal.Stats().NextLSN
	}
	t, err := concurrency.Begin(db.wal, beginLSN, isolation)
	if err != nil {
		return nil, db.recordErr(err)
	}
	return &Txn{inner: t}, nil
}

// Commit finalizes txn, appending a txn_commit WAL record.
func (db *DB) Commit(txn *Txn) error {
	return db.recordErr(txn.inner.Commit(db.wal))
}

// Abort unwinds txn's undo stack (if any were recorded) and appends a
// txn_abort WAL record.
func (db *DB) Abort(txn *Txn) error {
	return db.recordErr(txn.inner.Abort(db.wal))
}
