// Package errkind is NenDB's error taxonomy (spec §7): a sentinel error
// value plus a Kind classifier per error category. It has no dependency
// on any other NenDB package so every layer — pool, store, wal,
// concurrency, batch, coordinator, and the facade itself — can return
// these errors without import cycles.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error for metrics and programmatic dispatch, without
// callers having to string-match error messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindPoolExhausted
	KindDuplicateNode
	KindDuplicateEdge
	KindNodeNotFound
	KindEdgeNotFound
	KindInvalidID
	KindInvalidConfiguration
	KindCorruptedData
	KindIOError
	KindLockTimeout
	KindDeadlockPotential
	KindQueueOverflow
	KindClosed
)

// String renders the Kind the way it appears in metrics labels and logs.
func (k Kind) String() string {
	switch k {
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindDuplicateNode:
		return "duplicate_node"
	case KindDuplicateEdge:
		return "duplicate_edge"
	case KindNodeNotFound:
		return "node_not_found"
	case KindEdgeNotFound:
		return "edge_not_found"
	case KindInvalidID:
		return "invalid_id"
	case KindInvalidConfiguration:
		return "invalid_configuration"
	case KindCorruptedData:
		return "corrupted_data"
	case KindIOError:
		return "io_error"
	case KindLockTimeout:
		return "lock_timeout"
	case KindDeadlockPotential:
		return "deadlock_potential"
	case KindQueueOverflow:
		return "queue_overflow"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinel errors for every error kind in spec §7. Use errors.Is to test
// against these, or KindOf to classify an arbitrary wrapped error.
var (
	ErrPoolExhausted        = errors.New("nendb: pool exhausted")
	ErrDuplicateNode        = errors.New("nendb: duplicate node")
	ErrDuplicateEdge        = errors.New("nendb: duplicate edge")
	ErrNodeNotFound         = errors.New("nendb: node not found")
	ErrEdgeNotFound         = errors.New("nendb: edge not found")
	ErrInvalidID            = errors.New("nendb: invalid id")
	ErrInvalidConfiguration = errors.New("nendb: invalid configuration")
	ErrCorruptedData        = errors.New("nendb: corrupted data")
	ErrIOError              = errors.New("nendb: io error")
	ErrLockTimeout          = errors.New("nendb: lock timeout")
	ErrDeadlockPotential    = errors.New("nendb: deadlock potential")
	ErrQueueOverflow        = errors.New("nendb: queue overflow")
	ErrClosed               = errors.New("nendb: closed")
)

var sentinelByKind = map[Kind]error{
	KindPoolExhausted:        ErrPoolExhausted,
	KindDuplicateNode:        ErrDuplicateNode,
	KindDuplicateEdge:        ErrDuplicateEdge,
	KindNodeNotFound:         ErrNodeNotFound,
	KindEdgeNotFound:         ErrEdgeNotFound,
	KindInvalidID:            ErrInvalidID,
	KindInvalidConfiguration: ErrInvalidConfiguration,
	KindCorruptedData:        ErrCorruptedData,
	KindIOError:              ErrIOError,
	KindLockTimeout:          ErrLockTimeout,
	KindDeadlockPotential:    ErrDeadlockPotential,
	KindQueueOverflow:        ErrQueueOverflow,
	KindClosed:               ErrClosed,
}

// KindOf classifies err against the known sentinel errors. Returns
// KindUnknown if err doesn't wrap any of them.
func KindOf(err error) Kind {
	for k, sentinel := range sentinelByKind {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}

// Wrap annotates a sentinel error with context while preserving errors.Is
// matching against the sentinel.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
