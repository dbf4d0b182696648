// Package config holds NenDB's configuration struct.
//
// Unlike the wider NornicDB codebase this module was adapted from, the
// storage core defined here takes no environment variables: spec §6.4 is
// explicit that configuration is an explicit struct with defaults, handed
// to the embedded facade by the caller. Environment-variable plumbing
// belongs to the server/CLI layers that sit atop this core, not the core
// itself.
//
// Example:
//
//	cfg := config.Default()
//	cfg.WAL.Dir = "/var/lib/nendb"
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration struct for an embedded NenDB instance.
type Config struct {
	Pool       PoolConfig       `yaml:"pool"`
	WAL        WALConfig        `yaml:"wal"`
	Batch      BatchConfig      `yaml:"batch"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Features   FeatureConfig    `yaml:"features"`
}

// PoolConfig sets the fixed, init-time capacities of the node, edge, and
// embedding pools. These never grow after NewDB (spec §4.1, Non-goals).
type PoolConfig struct {
	NodeCapacity      uint32 `yaml:"node_capacity"`
	EdgeCapacity      uint32 `yaml:"edge_capacity"`
	EmbeddingCapacity uint32 `yaml:"embedding_capacity"`
	EmbeddingDim      uint32 `yaml:"embedding_dim"`
}

// WALConfig configures segment sizing, sync policy, and the archival path.
type WALConfig struct {
	Dir                 string        `yaml:"dir"`
	MaxSegmentSize      uint32        `yaml:"max_segment_size"`
	MaxEntriesPerSegment uint32       `yaml:"max_entries_per_segment"`
	BufferSize          uint32        `yaml:"buffer_size"`
	SyncEveryN          uint32        `yaml:"sync_every_n"`
	SyncEveryBytes      uint32        `yaml:"sync_every_bytes"`
	ArchiveEnabled      bool          `yaml:"archive_enabled"`
	ArchiveDir          string        `yaml:"archive_dir"`
	SeqlockRetries      int           `yaml:"seqlock_retries"`
	LockTimeout         time.Duration `yaml:"lock_timeout"`
}

// BatchConfig configures the client-side batcher and server-side LSM.
type BatchConfig struct {
	MaxBatchSize               int           `yaml:"max_batch_size"`
	MaxBatchWait                time.Duration `yaml:"max_batch_wait"`
	AutoFlushThreshold          int           `yaml:"auto_flush_threshold"`
	EnableHomogeneousBatching   bool          `yaml:"enable_homogeneous_batching"`
	EnableAdaptiveBatching      bool          `yaml:"enable_adaptive_batching"`
	QueueCapacity               int           `yaml:"queue_capacity"`
	BlockOnFullQueue            bool          `yaml:"block_on_full_queue"`
	CompactionThreshold         int           `yaml:"compaction_threshold"`
	LSMLevels                   int           `yaml:"lsm_levels"`
}

// CoordinatorConfig configures the multi-process advisory lock and
// shared-memory participant table.
type CoordinatorConfig struct {
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	MaxParticipants  int           `yaml:"max_participants"`
}

// FeatureConfig toggles optional subsystems (spec §6.4).
type FeatureConfig struct {
	EnableWAL            bool `yaml:"enable_wal"`
	EnableBatching       bool `yaml:"enable_batching"`
	EnableFileLocking    bool `yaml:"enable_file_locking"`
	EnableSharedMemory   bool `yaml:"enable_shared_memory"`
	EnableProductionWAL  bool `yaml:"enable_production_wal"`
	EnableHotCache       bool `yaml:"enable_hot_cache"`
	EnableMetrics        bool `yaml:"enable_metrics"`
}

// Default returns the documented defaults from spec §4.3/§4.5/§4.6/§6.4.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			NodeCapacity:      4096,
			EdgeCapacity:      16384,
			EmbeddingCapacity: 1024,
			EmbeddingDim:      256,
		},
		WAL: WALConfig{
			Dir:                  "wal",
			MaxSegmentSize:       64 * 1024 * 1024,
			MaxEntriesPerSegment: 10000,
			BufferSize:           64 * 1024,
			SyncEveryN:           100,
			SyncEveryBytes:       1 << 20,
			ArchiveEnabled:       false,
			ArchiveDir:           "archive",
			SeqlockRetries:       10,
			LockTimeout:          5 * time.Second,
		},
		Batch: BatchConfig{
			MaxBatchSize:              8192,
			MaxBatchWait:              10 * time.Millisecond,
			AutoFlushThreshold:        4096,
			EnableHomogeneousBatching: true,
			EnableAdaptiveBatching:    false,
			QueueCapacity:             1 << 16,
			BlockOnFullQueue:          false,
			CompactionThreshold:       4096,
			LSMLevels:                 4,
		},
		Coordinator: CoordinatorConfig{
			LockTimeout:       5 * time.Second,
			HeartbeatInterval: 1 * time.Second,
			HeartbeatTimeout:  5 * time.Second,
			MaxParticipants:   32,
		},
		Features: FeatureConfig{
			EnableWAL:           true,
			EnableBatching:      true,
			EnableFileLocking:   false,
			EnableSharedMemory:  false,
			EnableProductionWAL: true,
			EnableHotCache:      false,
			EnableMetrics:       true,
		},
	}
}

// Validate rejects contradictory configuration before it reaches the
// storage core. It returns a plain error describing the first bad setting;
// nendb.Open wraps that error as ErrInvalidConfiguration.
func (c *Config) Validate() error {
	const minEntryHeader = 25 // spec §6.2 entry header size
	if c.Pool.NodeCapacity == 0 {
		return fmt.Errorf("config: node capacity must be > 0")
	}
	if c.Pool.EdgeCapacity == 0 {
		return fmt.Errorf("config: edge capacity must be > 0")
	}
	if c.Pool.EmbeddingDim == 0 {
		return fmt.Errorf("config: embedding dimension must be > 0")
	}
	if c.WAL.MaxSegmentSize < minEntryHeader+34 {
		return fmt.Errorf("config: wal max segment size too small to hold a header and one entry")
	}
	if c.WAL.MaxEntriesPerSegment == 0 {
		return fmt.Errorf("config: wal max entries per segment must be > 0")
	}
	if c.WAL.SeqlockRetries < 1 {
		return fmt.Errorf("config: seqlock retries must be >= 1")
	}
	if c.Batch.MaxBatchSize <= 0 {
		return fmt.Errorf("config: max batch size must be > 0")
	}
	if c.Batch.LSMLevels < 1 {
		return fmt.Errorf("config: lsm levels must be >= 1")
	}
	if c.Coordinator.MaxParticipants <= 0 || c.Coordinator.MaxParticipants > 256 {
		return fmt.Errorf("config: max participants must be in (0, 256]")
	}
	return nil
}

// LoadFile reads a YAML configuration file, applying it on top of the
// documented defaults so partial files are legal.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
