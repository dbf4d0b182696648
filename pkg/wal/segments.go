package wal

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nen-co/nendb/pkg/errkind"
)

// handleCacheSize bounds the number of sealed-segment file descriptors a
// HandleCache keeps open at once.
const handleCacheSize = 64

// HandleCache is an LRU of read-only *os.File handles for sealed segments.
// Replay and the Archiver do not use it: Replay opens and closes each
// segment file itself, and the Archiver reads whole files with os.ReadFile.
type HandleCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *os.File]
}

// NewHandleCache constructs a HandleCache with the default bound.
func NewHandleCache() *HandleCache {
	cache, _ := lru.NewWithEvict[string, *os.File](handleCacheSize, func(_ string, f *os.File) {
		f.Close()
	})
	return &HandleCache{cache: cache}
}

// Open returns a read-only handle for path, opening and caching it on a
// miss. The caller must not close the returned handle directly; it is
// closed when evicted or when Close is called.
func (c *HandleCache) Open(path string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.cache.Get(path); ok {
		return f, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrIOError, "wal: open segment %s: %v", path, err)
	}
	c.cache.Add(path, f)
	return f, nil
}

// Close evicts and closes every cached handle.
func (c *HandleCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
