package coordinator

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/crypto/blake2b"

	"github.com/nen-co/nendb/pkg/errkind"
)

const (
	participantMagic   uint32 = 0x4E454E53 // "NENS"
	participantVersion uint32 = 1

	headerSize = 16 // magic(4) version(4) count(4) reserved(4)
	slotSize   = 32 // pid(8) start_time(8) last_heartbeat(8) active(1) lock_type(1) pad(6)

	lockTypeShared    uint8 = 1
	lockTypeExclusive uint8 = 2
)

// sharedTableName derives the well-known name two processes opening the
// same data_dir will agree on: a blake2b hash of the absolute data_dir
// path, so unrelated NenDB instances never collide on the same backing
// file even if their data directories share a leaf name.
func sharedTableName(dataDir string) (string, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return "", errkind.Wrap(errkind.ErrIOError, "coordinator: resolve data dir: %v", err)
	}
	sum := blake2b.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "nendb-"+hex.EncodeToString(sum[:8])+".shm"), nil
}

// ParticipantTable is a fixed-size (≤32 slots) table of live NenDB
// processes attached to one data directory, backed by a shared mmap'd
// file (spec §4.6). The first attacher initializes the magic+version
// header; every later attacher just maps the existing file.
type ParticipantTable struct {
	mu       sync.Mutex
	file     *os.File
	data     mmap.MMap
	maxSlots int
	mySlot   int
	myPID    int64
}

func tableSize(maxSlots int) int64 {
	return int64(headerSize + maxSlots*slotSize)
}

// AttachParticipantTable opens (creating and initializing if necessary)
// the shared participant table for dataDir, and claims a free slot for
// this process. maxParticipants bounds the table to at most 32 slots.
func AttachParticipantTable(dataDir string, maxParticipants int) (*ParticipantTable, error) {
	if maxParticipants <= 0 || maxParticipants > 32 {
		maxParticipants = 32
	}
	name, err := sharedTableName(dataDir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrIOError, "coordinator: open shared table: %v", err)
	}

	size := tableSize(maxParticipants)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errkind.Wrap(errkind.ErrIOError, "coordinator: stat shared table: %v", err)
	}
	initializing := info.Size() == 0
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errkind.Wrap(errkind.ErrIOError, "coordinator: truncate shared table: %v", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errkind.Wrap(errkind.ErrIOError, "coordinator: mmap shared table: %v", err)
	}

	t := &ParticipantTable{file: f, data: data, maxSlots: maxParticipants, mySlot: -1, myPID: int64(os.Getpid())}

	if initializing {
		binary.LittleEndian.PutUint32(t.data[0:4], participantMagic)
		binary.LittleEndian.PutUint32(t.data[4:8], participantVersion)
		binary.LittleEndian.PutUint32(t.data[8:12], 0)
	} else if binary.LittleEndian.Uint32(t.data[0:4]) != participantMagic {
		data.Unmap()
		f.Close()
		return nil, errkind.Wrap(errkind.ErrCorruptedData, "coordinator: bad shared table magic")
	}

	if err := t.attach(lockTypeShared); err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *ParticipantTable) slotOffset(i int) int { return headerSize + i*slotSize }

func (t *ParticipantTable) countPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&t.data[8]))
}

func (t *ParticipantTable) slotActivePtr(i int) *uint32 {
	off := t.slotOffset(i) + 24 // active at byte 24, lock_type at byte 25; read as one u32 for atomic CAS
	return (*uint32)(unsafe.Pointer(&t.data[off]))
}

func (t *ParticipantTable) slotHeartbeatPtr(i int) *int64 {
	off := t.slotOffset(i) + 16
	return (*int64)(unsafe.Pointer(&t.data[off]))
}

// attach claims the first free slot for this process.
func (t *ParticipantTable) attach(lockType uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < t.maxSlots; i++ {
		activePtr := t.slotActivePtr(i)
		if !atomic.CompareAndSwapUint32(activePtr, 0, uint32(lockType)<<8|1) {
			continue
		}
		off := t.slotOffset(i)
		binary.LittleEndian.PutUint64(t.data[off:off+8], uint64(t.myPID))
		now := time.Now().UnixNano()
		binary.LittleEndian.PutUint64(t.data[off+8:off+16], uint64(now))
		atomic.StoreInt64(t.slotHeartbeatPtr(i), now)
		atomic.AddUint32(t.countPtr(), 1)
		t.mySlot = i
		return nil
	}
	return errkind.Wrap(errkind.ErrQueueOverflow, "coordinator: participant table full (max %d)", t.maxSlots)
}

// Heartbeat refreshes this process's last_heartbeat timestamp. Callers are
// expected to invoke this roughly every HeartbeatInterval.
func (t *ParticipantTable) Heartbeat() {
	if t.mySlot < 0 {
		return
	}
	atomic.StoreInt64(t.slotHeartbeatPtr(t.mySlot), time.Now().UnixNano())
}

// ReclaimStale scans every slot and reclaims (clears) any whose
// last_heartbeat is older than timeout, returning how many were reclaimed.
// Any live process may call this; reclamation is a CAS on the active flag
// (spec §4.6), so two processes racing to reclaim the same stale slot
// never double-decrement the header's count.
func (t *ParticipantTable) ReclaimStale(timeout time.Duration) int {
	reclaimed := 0
	cutoff := time.Now().Add(-timeout).UnixNano()
	for i := 0; i < t.maxSlots; i++ {
		if i == t.mySlot {
			continue
		}
		activePtr := t.slotActivePtr(i)
		cur := atomic.LoadUint32(activePtr)
		if cur&0xFF == 0 {
			continue
		}
		hb := atomic.LoadInt64(t.slotHeartbeatPtr(i))
		if hb >= cutoff {
			continue
		}
		if atomic.CompareAndSwapUint32(activePtr, cur, 0) {
			atomic.AddUint32(t.countPtr(), ^uint32(0)) // decrement
			reclaimed++
		}
	}
	return reclaimed
}

// Detach clears this process's own slot.
func (t *ParticipantTable) Detach() {
	if t.mySlot < 0 {
		return
	}
	activePtr := t.slotActivePtr(t.mySlot)
	if atomic.SwapUint32(activePtr, 0) != 0 {
		atomic.AddUint32(t.countPtr(), ^uint32(0))
	}
	t.mySlot = -1
}

// ParticipantCount returns the header's live-process count.
func (t *ParticipantTable) ParticipantCount() uint32 {
	return atomic.LoadUint32(t.countPtr())
}

// Close detaches this process and unmaps the shared table.
func (t *ParticipantTable) Close() error {
	t.Detach()
	if err := t.data.Unmap(); err != nil {
		t.file.Close()
		return errkind.Wrap(errkind.ErrIOError, "coordinator: unmap shared table: %v", err)
	}
	return t.file.Close()
}
