package wal

import (
	"fmt"
	"io"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/nen-co/nendb/pkg/errkind"
)

// Archiver stores sealed WAL segments in a Badger key-value store at the
// directory passed to OpenArchiver (spec §4.3's "segments entirely before
// the most-recent checkpoint may be archived"). It archives whichever
// segment the caller names and does not itself compare the segment with a
// checkpoint; nothing in the façade opens an Archiver. Each segment's raw
// bytes are zstd-compressed before the put, so cold segments cost a
// fraction of their on-disk size once archived.
//
// Badger never sits on NenDB's hot path: every live read/write goes through
// pkg/pool and pkg/store directly. This is the one place in the codebase
// Badger is reachable, mirroring how the codebase this was adapted from
// treats Badger as one interchangeable storage engine behind a common
// interface rather than the only one.
type Archiver struct {
	db       *badger.DB
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// OpenArchiver opens (or creates) the Badger archive store at dir.
func OpenArchiver(dir string) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.ErrIOError, "wal: create archive dir: %v", err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrIOError, "wal: open archive: %v", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.ErrIOError, "wal: init zstd encoder: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.ErrIOError, "wal: init zstd decoder: %v", err)
	}
	return &Archiver{db: db, encoder: enc, decoder: dec}, nil
}

func archiveKey(segmentID uint32) []byte {
	return []byte(fmt.Sprintf("seg:%06d", segmentID))
}

// ArchiveSegment reads the sealed segment at path in full, zstd-compresses
// it, and stores it under the segment's id. The original segment file is
// left untouched; callers decide separately whether to remove it once the
// archive write is confirmed (see Prune).
func (a *Archiver) ArchiveSegment(segmentID uint32, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errkind.Wrap(errkind.ErrIOError, "wal: read segment for archival: %v", err)
	}
	compressed := a.encoder.EncodeAll(raw, nil)
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(archiveKey(segmentID), compressed)
	})
}

// ReadSegment returns the decompressed bytes of a previously archived
// segment, or badger.ErrKeyNotFound if it was never archived.
func (a *Archiver) ReadSegment(segmentID uint32) ([]byte, error) {
	var compressed []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(segmentID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			compressed = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return a.decoder.DecodeAll(compressed, nil)
}

// Prune removes the on-disk segment file at path once its contents are
// durably archived. Call only after ArchiveSegment has returned nil.
func (a *Archiver) Prune(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.ErrIOError, "wal: prune archived segment: %v", err)
	}
	return nil
}

// Close releases the encoder/decoder and closes the underlying Badger
// store.
func (a *Archiver) Close() error {
	a.encoder.Close()
	a.decoder.Close()
	return a.db.Close()
}

var _ io.Closer = (*Archiver)(nil)
