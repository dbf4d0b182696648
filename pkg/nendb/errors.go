package nendb

import "github.com/nen-co/nendb/pkg/errkind"

// Kind and the sentinel errors are re-exported from pkg/errkind so public
// API users only need to import this one package (spec §7's error
// taxonomy lives at pkg/errkind to keep it dependency-free for every
// internal layer; nendb is where callers actually see it).
type Kind = errkind.Kind

const (
	KindUnknown              = errkind.KindUnknown
	KindPoolExhausted        = errkind.KindPoolExhausted
	KindDuplicateNode        = errkind.KindDuplicateNode
	KindDuplicateEdge        = errkind.KindDuplicateEdge
	KindNodeNotFound         = errkind.KindNodeNotFound
	KindEdgeNotFound         = errkind.KindEdgeNotFound
	KindInvalidID            = errkind.KindInvalidID
	KindInvalidConfiguration = errkind.KindInvalidConfiguration
	KindCorruptedData        = errkind.KindCorruptedData
	KindIOError              = errkind.KindIOError
	KindLockTimeout          = errkind.KindLockTimeout
	KindDeadlockPotential    = errkind.KindDeadlockPotential
	KindQueueOverflow        = errkind.KindQueueOverflow
	KindClosed               = errkind.KindClosed
)

var (
	ErrPoolExhausted        = errkind.ErrPoolExhausted
	ErrDuplicateNode        = errkind.ErrDuplicateNode
	ErrDuplicateEdge        = errkind.ErrDuplicateEdge
	ErrNodeNotFound         = errkind.ErrNodeNotFound
	ErrEdgeNotFound         = errkind.ErrEdgeNotFound
	ErrInvalidID            = errkind.ErrInvalidID
	ErrInvalidConfiguration = errkind.ErrInvalidConfiguration
	ErrCorruptedData        = errkind.ErrCorruptedData
	ErrIOError              = errkind.ErrIOError
	ErrLockTimeout          = errkind.ErrLockTimeout
	ErrDeadlockPotential    = errkind.ErrDeadlockPotential
	ErrQueueOverflow        = errkind.ErrQueueOverflow
	ErrClosed               = errkind.ErrClosed
)

// KindOf classifies err against the known sentinel errors.
func KindOf(err error) Kind { return errkind.KindOf(err) }
