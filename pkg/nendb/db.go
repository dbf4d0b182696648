package nendb

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/nen-co/nendb/pkg/batch"
	"github.com/nen-co/nendb/pkg/concurrency"
	"github.com/nen-co/nendb/pkg/config"
	"github.com/nen-co/nendb/pkg/coordinator"
	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/metrics"
	"github.com/nen-co/nendb/pkg/model"
	"github.com/nen-co/nendb/pkg/store"
	"github.com/nen-co/nendb/pkg/wal"
)

// DB is an embedded NenDB instance: the SoA graph store, write-ahead log,
// concurrency primitives, batch processor, and (optionally) multi-process
// coordination, wired together behind the public API in spec §6.3.
//
// Lock ordering (spec §4.7): the process-level file lock (if
// enable_file_locking) is taken exclusively once in Open and held until
// Close; each mutating method then takes the in-process write lock → batch
// processor or direct WAL append → pool/SoA mutation.
type DB struct {
	cfg *config.Config
	log zerolog.Logger

	store *store.Store
	wal   *wal.WAL

	rw       *concurrency.RWLock
	seq      *concurrency.SeqLock
	deadlock *concurrency.DeadlockDetector
	ids      *concurrency.IDGenerator

	batcher *batch.Batcher
	lsm     *batch.LSM

	fileLock     *coordinator.FileLock
	participants *coordinator.ParticipantTable
	stopHeartbeat chan struct{}

	hotCache *ristretto.Cache[uint64, model.Node]

	metrics *metrics.Registry

	// statsMu guards the last-observed cumulative values GetStats diffs
	// against to feed the monotonic Prometheus counters below (polling a
	// snapshot, rather than an Inc() at every call site).
	statsMu          sync.Mutex
	lastWALEntries   uint64
	lastWALBytes     uint64
	lastWALSyncs     uint64
	lastWALRotations uint64
	lastSeqRetries   uint64
	lastSeqFallbacks uint64

	closed atomic.Bool
}

// Open creates or recovers a NenDB instance rooted at cfg.WAL.Dir /
// cfg.Pool's fixed capacities. If a WAL directory already holds segments,
// they are replayed into the store before Open returns (spec §4.3).
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.ErrInvalidConfiguration, "nendb: %v", err)
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "nendb").Logger()

	db := &DB{
		cfg:      cfg,
		log:      log,
		store:    store.New(cfg.Pool.NodeCapacity, cfg.Pool.EdgeCapacity, cfg.Pool.EmbeddingCapacity),
		rw:       concurrency.NewRWLock(),
		seq:      concurrency.NewSeqLock(cfg.WAL.SeqlockRetries),
		deadlock: concurrency.NewDeadlockDetector(),
		ids:      &concurrency.IDGenerator{},
		lsm:      batch.NewLSM(cfg.Batch),
		metrics:  metrics.New(),
	}

	// The WAL's directory doubles as the data directory (spec §6.1: segments,
	// nendb.lock, and checkpoint.meta all live directly under data_dir).
	dataDir := cfg.WAL.Dir

	if cfg.Features.EnableFileLocking {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, errkind.Wrap(errkind.ErrIOError, "nendb: create data dir: %v", err)
		}
		lockPath := filepath.Join(dataDir, "nendb.lock")
		db.fileLock = coordinator.NewFileLock(lockPath)
		if err := db.fileLock.Lock(cfg.Coordinator.LockTimeout); err != nil {
			return nil, err
		}
	}

	if cfg.Features.EnableSharedMemory {
		table, err := coordinator.AttachParticipantTable(dataDir, cfg.Coordinator.MaxParticipants)
		if err != nil {
			db.releaseProcessLock()
			return nil, err
		}
		db.participants = table
		db.stopHeartbeat = make(chan struct{})
		go db.heartbeatLoop()
	}

	if cfg.Features.EnableWAL {
		w, err := wal.Open(cfg.WAL)
		if err != nil {
			db.Close()
			return nil, err
		}
		db.wal = w

		stats, err := wal.Replay(cfg.WAL.Dir, db.store)
		if err != nil {
			db.Close()
			return nil, err
		}
		db.metrics.WALReplayErrors.Add(float64(stats.EntriesUnsatisfied))
		db.log.Info().
			Int("segments_scanned", stats.SegmentsScanned).
			Int("entries_applied", stats.EntriesApplied).
			Int("deferred_applied", stats.DeferredApplied).
			Int("entries_unsatisfied", stats.EntriesUnsatisfied).
			Uint64("last_lsn", stats.LastLSN).
			Msg("wal replay complete")
	}

	if cfg.Features.EnableBatching {
		db.batcher = batch.NewBatcher(cfg.Batch, db.applyOps)
	}

	if cfg.Features.EnableHotCache {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, model.Node]{
			NumCounters: 1e5,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			db.Close()
			return nil, errkind.Wrap(errkind.ErrInvalidConfiguration, "nendb: hot cache: %v", err)
		}
		db.hotCache = cache
	}

	return db, nil
}

func (db *DB) releaseProcessLock() error {
	if db.fileLock != nil {
		return db.fileLock.Unlock()
	}
	return nil
}

// heartbeatLoop refreshes this process's participant slot on
// cfg.Coordinator.HeartbeatInterval until stopHeartbeat is closed.
func (db *DB) heartbeatLoop() {
	ticker := time.NewTicker(db.cfg.Coordinator.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			db.participants.Heartbeat()
			if n := db.participants.ReclaimStale(db.cfg.Coordinator.HeartbeatTimeout); n > 0 {
				db.metrics.ParticipantsReclaimed.Add(float64(n))
			}
		case <-db.stopHeartbeat:
			return
		}
	}
}

func (db *DB) lockWrite() error {
	start := time.Now()
	err := db.rw.Lock(db.cfg.WAL.LockTimeout)
	db.metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		db.metrics.LockTimeouts.Inc()
	}
	return err
}

func (db *DB) recordErr(err error) error {
	if err != nil {
		db.metrics.RecordError(errkind.KindOf(err).String())
	}
	return err
}

// AddNodeAuto inserts a node under a facade-generated id, for callers that
// don't track their own id space. Ids come from a process-local generator
// (pkg/concurrency's IDGenerator) and never collide with each other, but
// callers mixing AddNode and AddNodeAuto are responsible for keeping the
// two id spaces apart.
func (db *DB) AddNodeAuto(kind uint8, props []byte) (uint64, error) {
	id, err := db.ids.Next()
	if err != nil {
		return 0, db.recordErr(err)
	}
	if err := db.AddNode(id, kind, props); err != nil {
		return 0, err
	}
	return id, nil
}

// AddNode inserts a node with the given id and kind (spec §4.7). Duplicate
// ids fail with ErrDuplicateNode; id == 0 fails with ErrInvalidID.
func (db *DB) AddNode(id uint64, kind uint8, props []byte) error {
	if err := db.lockWrite(); err != nil {
		return db.recordErr(err)
	}
	defer db.rw.Unlock()
	if db.closed.Load() {
		return db.recordErr(errkind.ErrClosed)
	}
	if id == 0 {
		return db.recordErr(errkind.ErrInvalidID)
	}
	if db.store.NodePool().Exists(id) {
		return db.recordErr(errkind.ErrDuplicateNode)
	}

	if db.wal != nil {
		if _, err := db.wal.Append(wal.EntryNodeInsert, wal.EncodeNodePayload(id, kind, props)); err != nil {
			return db.recordErr(err)
		}
	}
	db.seq.BeginWrite()
	_, err := db.store.AddNode(id, kind, props)
	db.seq.EndWrite()
	if err != nil {
		return db.recordErr(err)
	}
	db.lsm.Put(id, wal.EncodeNodePayload(id, kind, props), false)
	if db.hotCache != nil {
		db.hotCache.Del(id)
	}
	return nil
}

// FindNode returns the live node with the given id, or ErrNodeNotFound.
func (db *DB) FindNode(id uint64) (model.Node, error) {
	if db.hotCache != nil {
		if n, ok := db.hotCache.Get(id); ok {
			return n, nil
		}
	}
	var result model.Node
	var found bool
	if !db.seq.TryRead(func() {
		result, _, found = db.store.NodePool().GetByKey(id)
	}) {
		if err := db.rw.RLock(db.cfg.WAL.LockTimeout); err != nil {
			return model.Node{}, db.recordErr(err)
		}
		result, _, found = db.store.NodePool().GetByKey(id)
		db.rw.RUnlock()
	}
	if !found {
		return model.Node{}, db.recordErr(errkind.ErrNodeNotFound)
	}
	if db.hotCache != nil {
		db.hotCache.Set(id, result, 1)
	}
	return result, nil
}

// DeleteNode removes the node with the given id, invalidating any edges or
// embeddings still referencing it is the caller's responsibility (spec
// §4.2 doesn't cascade-delete).
func (db *DB) DeleteNode(id uint64) error {
	if err := db.lockWrite(); err != nil {
		return db.recordErr(err)
	}
	defer db.rw.Unlock()
	if db.closed.Load() {
		return db.recordErr(errkind.ErrClosed)
	}
	if !db.store.NodePool().Exists(id) {
		return db.recordErr(errkind.ErrNodeNotFound)
	}
	if db.wal != nil {
		if _, err := db.wal.Append(wal.EntryNodeDelete, wal.EncodeNodeDeletePayload(id)); err != nil {
			return db.recordErr(err)
		}
	}
	db.seq.BeginWrite()
	err := db.store.DeleteNode(id)
	db.seq.EndWrite()
	if err != nil {
		return db.recordErr(err)
	}
	db.lsm.Put(id, nil, true)
	if db.hotCache != nil {
		db.hotCache.Del(id)
	}
	return nil
}

// AddEdge inserts an edge from -> to, both of which must already exist
// (spec §3 invariant 3). Self-edges (from == to) fail with ErrInvalidID.
func (db *DB) AddEdge(from, to uint64, label uint16, props []byte) error {
	if err := db.lockWrite(); err != nil {
		return db.recordErr(err)
	}
	defer db.rw.Unlock()
	if db.closed.Load() {
		return db.recordErr(errkind.ErrClosed)
	}
	if from == to {
		return db.recordErr(errkind.Wrap(errkind.ErrInvalidID, "nendb: self-edge on node %d", from))
	}
	if !db.store.NodePool().Exists(from) || !db.store.NodePool().Exists(to) {
		return db.recordErr(errkind.ErrNodeNotFound)
	}
	if db.store.EdgePool().Exists(model.EdgeKey(from, to, label)) {
		return db.recordErr(errkind.ErrDuplicateEdge)
	}
	if db.wal != nil {
		if _, err := db.wal.Append(wal.EntryEdgeInsert, wal.EncodeEdgePayload(from, to, label, props)); err != nil {
			return db.recordErr(err)
		}
	}
	db.seq.BeginWrite()
	_, err := db.store.AddEdge(from, to, label, props)
	db.seq.EndWrite()
	if err != nil {
		return db.recordErr(err)
	}
	db.lsm.Put(model.EdgeKey(from, to, label), wal.EncodeEdgePayload(from, to, label, props), false)
	return nil
}

// DeleteEdge removes the (from, to, label) edge.
func (db *DB) DeleteEdge(from, to uint64, label uint16) error {
	if err := db.lockWrite(); err != nil {
		return db.recordErr(err)
	}
	defer db.rw.Unlock()
	if db.closed.Load() {
		return db.recordErr(errkind.ErrClosed)
	}
	key := model.EdgeKey(from, to, label)
	if !db.store.EdgePool().Exists(key) {
		return db.recordErr(errkind.ErrEdgeNotFound)
	}
	if db.wal != nil {
		if _, err := db.wal.Append(wal.EntryEdgeDelete, wal.EncodeEdgeDeletePayload(from, to, label)); err != nil {
			return db.recordErr(err)
		}
	}
	db.seq.BeginWrite()
	err := db.store.DeleteEdge(from, to, label)
	db.seq.EndWrite()
	if err != nil {
		return db.recordErr(err)
	}
	db.lsm.Put(key, nil, true)
	return nil
}

// FindOutgoingEdges returns up to len(out) slot indices of edges leaving
// nodeID; FindIncomingEdges is the symmetric case for edges arriving at
// nodeID. Callers resolve a slot index to an edge via Store().EdgePool().
func (db *DB) FindOutgoingEdges(nodeID uint64, out []uint32) (uint32, error) {
	if err := db.rw.RLock(db.cfg.WAL.LockTimeout); err != nil {
		return 0, db.recordErr(err)
	}
	defer db.rw.RUnlock()
	return db.store.FindEdgesByNode(nodeID, true, out), nil
}

func (db *DB) FindIncomingEdges(nodeID uint64, out []uint32) (uint32, error) {
	if err := db.rw.RLock(db.cfg.WAL.LockTimeout); err != nil {
		return 0, db.recordErr(err)
	}
	defer db.rw.RUnlock()
	return db.store.FindEdgesByNode(nodeID, false, out), nil
}

// AddVector attaches a dense embedding to nodeID (spec §4.7's
// add_vector). At most one active embedding per node.
func (db *DB) AddVector(nodeID uint64, vector []float32) error {
	if err := db.lockWrite(); err != nil {
		return db.recordErr(err)
	}
	defer db.rw.Unlock()
	if db.closed.Load() {
		return db.recordErr(errkind.ErrClosed)
	}
	if !db.store.NodePool().Exists(nodeID) {
		return db.recordErr(errkind.ErrNodeNotFound)
	}
	if db.store.EmbeddingPool().Exists(nodeID) {
		return db.recordErr(errkind.ErrDuplicateNode)
	}
	if db.wal != nil {
		if _, err := db.wal.Append(wal.EntryEmbeddingInsert, wal.EncodeEmbeddingPayload(nodeID, vector)); err != nil {
			return db.recordErr(err)
		}
	}
	db.seq.BeginWrite()
	_, err := db.store.AddEmbedding(nodeID, vector)
	db.seq.EndWrite()
	return db.recordErr(err)
}

// FindSimilarVectors returns the top_k nodes whose embeddings are closest
// to query by cosine similarity, ties broken by ascending node id (spec
// §3 edge case 6).
func (db *DB) FindSimilarVectors(query []float32, topK int) ([]store.SimilarNode, error) {
	if err := db.rw.RLock(db.cfg.WAL.LockTimeout); err != nil {
		return nil, db.recordErr(err)
	}
	defer db.rw.RUnlock()
	results := db.store.CosineTopK(query, topK)
	sortSimilarByScoreThenID(results)
	return results, nil
}

func sortSimilarByScoreThenID(results []store.SimilarNode) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j-1], results[j]
			if a.Score > b.Score || (a.Score == b.Score && a.NodeID <= b.NodeID) {
				break
			}
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}

// Flush flushes any batcher-queued operations and, if the WAL is enabled,
// forces a sync of buffered writes (spec §4.7's flush).
func (db *DB) Flush() error {
	if db.batcher != nil {
		if err := db.batcher.Flush(); err != nil {
			return db.recordErr(err)
		}
	}
	if db.wal != nil {
		return db.recordErr(db.wal.Flush())
	}
	return nil
}

// Close drains in-flight batches, flushes and seals the WAL, releases the
// process-level lock, and detaches the shared participant table, in that
// order (spec §5's shutdown sequence).
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.batcher != nil {
		record(db.batcher.Close())
	}
	if db.wal != nil {
		record(db.wal.Close())
	}
	record(db.releaseProcessLock())
	if db.stopHeartbeat != nil {
		close(db.stopHeartbeat)
	}
	if db.participants != nil {
		record(db.participants.Close())
	}
	return firstErr
}

// IsolationLevel re-exports concurrency.IsolationLevel so callers of
// BeginTransaction don't need to import pkg/concurrency directly.
type IsolationLevel = concurrency.IsolationLevel

const (
	ReadUncommitted = concurrency.ReadUncommitted
	ReadCommitted   = concurrency.ReadCommitted
	RepeatableRead  = concurrency.RepeatableRead
	Serializable    = concurrency.Serializable
)
