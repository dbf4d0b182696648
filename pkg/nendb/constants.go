package nendb

import "time"

// Default* mirror the values config.Default() populates, exported here so
// callers that only need one or two of them don't have to construct a
// full config.Config (spec §6.4).
const (
	DefaultNodeCapacity      uint32 = 4096
	DefaultEdgeCapacity      uint32 = 16384
	DefaultEmbeddingCapacity uint32 = 1024
	DefaultEmbeddingDim      uint32 = 256

	DefaultMaxSegmentSize       uint32 = 64 * 1024 * 1024
	DefaultMaxEntriesPerSegment uint32 = 10000

	DefaultMaxParticipants = 32
)

// DefaultHeartbeatTimeout is how long a coordinator participant slot can
// go without a heartbeat before another process reclaims it.
const DefaultHeartbeatTimeout = 5 * time.Second
