// Package concurrency implements NenDB's multi-reader/single-writer
// coordination primitives (spec §4.4): a writer-preferring read-write
// lock, a seqlock for optimistic whole-store reads, atomic counters and id
// generators, a deadlock detector enforcing sorted lock ordering, and
// transactions with the four standard isolation levels.
//
// Every blocking call takes an explicit timeout (spec §4.4 "Cancellation"):
// no call here can block forever, and expiry always surfaces as
// errkind.ErrLockTimeout with every partial acquisition unwound first,
// grounded on the per-entity sync.RWMutex bookkeeping in
// apoc/lock.Nodes/ReadNodes (global map guarded by one mutex, timeout
// layered on top since that package has none).
package concurrency

import (
	"sync"
	"time"

	"github.com/nen-co/nendb/pkg/errkind"
)

// RWLock is a writer-preferring read-write lock: once a writer is waiting,
// no new reader is admitted until that writer has run (spec §4.4).
type RWLock struct {
	mu             sync.Mutex
	cond           *sync.Cond
	readers        int
	writerActive   bool
	writersWaiting int
}

// NewRWLock constructs an unlocked RWLock.
func NewRWLock() *RWLock {
	l := &RWLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// waitUntil blocks on the condition variable until woken or deadline
// passes, returning false on timeout. Caller must hold l.mu.
func (l *RWLock) waitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()
	l.cond.Wait()
	return time.Now().Before(deadline)
}

// RLock acquires a read lock, blocking while a writer holds or is waiting
// for the lock. Returns ErrLockTimeout if timeout elapses first.
func (l *RWLock) RLock(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.writerActive || l.writersWaiting > 0 {
		if !l.waitUntil(deadline) {
			return errkind.ErrLockTimeout
		}
	}
	l.readers++
	return nil
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Lock acquires the exclusive write lock, blocking while any reader or
// another writer holds the lock. Returns ErrLockTimeout if timeout elapses
// first; no partial state is left behind on timeout.
func (l *RWLock) Lock(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writersWaiting++
	for l.writerActive || l.readers > 0 {
		if !l.waitUntil(deadline) {
			l.writersWaiting--
			return errkind.ErrLockTimeout
		}
	}
	l.writersWaiting--
	l.writerActive = true
	return nil
}

// Unlock releases the exclusive write lock.
func (l *RWLock) Unlock() {
	l.mu.Lock()
	l.writerActive = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
