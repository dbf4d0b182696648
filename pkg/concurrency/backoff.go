package concurrency

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewBoundedBackoff returns an exponential backoff policy capped at
// maxElapsed. The multi-process coordinator's file-lock acquisition (spec
// §4.6) uses it instead of hand-rolling its own jitter/growth curve;
// RWLock and SeqLock do not use it.
func NewBoundedBackoff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return b
}
