package coordinator

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// atomicBackdateHeartbeat rewinds slot i's last_heartbeat so it looks
// stale by `age`, without going through the normal Heartbeat() path.
func atomicBackdateHeartbeat(t *ParticipantTable, slot int, age time.Duration) {
	stale := time.Now().Add(-age).UnixNano()
	atomic.StoreInt64(t.slotHeartbeatPtr(slot), stale)
}

func TestFileLockExclusiveExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.lock")
	a := NewFileLock(path)
	require.NoError(t, a.Lock(time.Second))
	defer a.Unlock()

	b := NewFileLock(path)
	err := b.Lock(50 * time.Millisecond)
	assert.Error(t, err)
}

func TestFileLockSharedAllowsMultipleReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.lock")
	a := NewFileLock(path)
	require.NoError(t, a.RLock(time.Second))
	defer a.Unlock()

	b := NewFileLock(path)
	require.NoError(t, b.RLock(time.Second))
	defer b.Unlock()
}

func TestParticipantTableAttachAndDetach(t *testing.T) {
	dir := t.TempDir()
	table, err := AttachParticipantTable(dir, 4)
	require.NoError(t, err)
	defer table.Close()

	assert.Equal(t, uint32(1), table.ParticipantCount())
	table.Heartbeat()
	table.Detach()
	assert.Equal(t, uint32(0), table.ParticipantCount())
}

func TestParticipantTableReclaimsStaleSlot(t *testing.T) {
	dir := t.TempDir()
	table, err := AttachParticipantTable(dir, 4)
	require.NoError(t, err)
	defer table.Close()

	// Force this process's own heartbeat to look stale, then reclaim from
	// a second attacher's point of view.
	atomicBackdateHeartbeat(table, table.mySlot, 10*time.Second)

	table2, err := AttachParticipantTable(dir, 4)
	require.NoError(t, err)
	defer table2.Close()

	assert.Equal(t, uint32(2), table2.ParticipantCount())
	reclaimed := table2.ReclaimStale(time.Second)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, uint32(1), table2.ParticipantCount())
}

func TestParticipantTableFullReturnsError(t *testing.T) {
	dir := t.TempDir()
	table, err := AttachParticipantTable(dir, 1)
	require.NoError(t, err)
	defer table.Close()

	_, err = AttachParticipantTable(dir, 1)
	assert.Error(t, err)
}
