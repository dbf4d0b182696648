package concurrency

import (
	"sync/atomic"
	"time"
)

// SeqLock provides optimistic lock-free reads over the whole store (spec
// §4.4): a writer bumps version from even to odd before mutating and odd
// to even after; a reader snapshots version, runs its read, and retries if
// version changed or was odd mid-read. After MaxRetries failed attempts the
// reader should fall back to the RWLock's RLock path instead.
type SeqLock struct {
	version     atomic.Uint64
	maxRetries  int
	retries     atomic.Uint64
	fallbacks   atomic.Uint64
}

// NewSeqLock constructs a SeqLock with the given retry bound (spec §4.4:
// "bounded retries (≥10)").
func NewSeqLock(maxRetries int) *SeqLock {
	if maxRetries < 1 {
		maxRetries = 10
	}
	return &SeqLock{maxRetries: maxRetries}
}

// BeginWrite marks the start of a mutation (even -> odd). Callers must
// already hold the store's write lock; SeqLock itself provides no mutual
// exclusion between writers.
func (s *SeqLock) BeginWrite() { s.version.Add(1) }

// EndWrite marks the end of a mutation (odd -> even).
func (s *SeqLock) EndWrite() { s.version.Add(1) }

// retryPause is how long TryRead sleeps before each retry, so an
// in-progress writer gets time to finish instead of every attempt being
// spent at once.
const retryPause = time.Millisecond

// TryRead runs fn optimistically, retrying after retryPause if a concurrent
// write was detected in progress or landed mid-read. Returns false once
// maxRetries is exhausted, at which point the caller should fall back to
// RLock.
func (s *SeqLock) TryRead(fn func()) bool {
	for i := 0; i < s.maxRetries; i++ {
		if i > 0 {
			time.Sleep(retryPause)
		}
		before := s.version.Load()
		if before&1 == 1 {
			s.retries.Add(1)
			continue
		}
		fn()
		after := s.version.Load()
		if before == after {
			return true
		}
		s.retries.Add(1)
	}
	s.fallbacks.Add(1)
	return false
}

// Retries returns the cumulative number of retried read attempts, for
// metrics (spec §4.4: "each retry is counted in metrics").
func (s *SeqLock) Retries() uint64 { return s.retries.Load() }

// Fallbacks returns the cumulative number of reads that exhausted
// maxRetries and fell back to the RWLock path.
func (s *SeqLock) Fallbacks() uint64 { return s.fallbacks.Load() }
