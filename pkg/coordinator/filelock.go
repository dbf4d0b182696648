// Package coordinator implements NenDB's multi-process coordination (spec
// §4.6): an advisory file lock bounding cross-process readers/writers on a
// data directory, and a shared participant table so every attached process
// can see who else is live and reclaim a crashed process's slot.
package coordinator

import (
	"time"

	"github.com/gofrs/flock"

	"github.com/nen-co/nendb/pkg/concurrency"
	"github.com/nen-co/nendb/pkg/errkind"
)

// FileLock is an advisory lock on a lock file (the facade uses
// <data_dir>/nendb.lock): unlimited shared
// readers with no exclusive holder, or a single exclusive holder with no
// other holders (spec §4.6). Acquisition retries with bounded backoff
// until the given timeout.
type FileLock struct {
	lock *flock.Flock
}

// NewFileLock constructs a FileLock at path (the facade passes
// <data_dir>/nendb.lock).
func NewFileLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path)}
}

// Lock acquires the exclusive lock, retrying with bounded exponential
// backoff until timeout elapses.
func (l *FileLock) Lock(timeout time.Duration) error {
	return retryAcquire(timeout, l.lock.TryLock)
}

// RLock acquires the shared lock, retrying with bounded exponential
// backoff until timeout elapses.
func (l *FileLock) RLock(timeout time.Duration) error {
	return retryAcquire(timeout, l.lock.TryRLock)
}

// Unlock releases whichever mode was last successfully acquired.
func (l *FileLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return errkind.Wrap(errkind.ErrIOError, "coordinator: unlock: %v", err)
	}
	return nil
}

func retryAcquire(timeout time.Duration, try func() (bool, error)) error {
	b := concurrency.NewBoundedBackoff(timeout)
	deadline := time.Now().Add(timeout)
	for {
		ok, err := try()
		if err == nil && ok {
			return nil
		}
		wait := b.NextBackOff()
		if wait < 0 || time.Now().Add(wait).After(deadline) {
			return errkind.ErrLockTimeout
		}
		time.Sleep(wait)
	}
}
