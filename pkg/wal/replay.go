package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/nen-co/nendb/pkg/errkind"
)

// decodedEntry is one fully-read, CRC-verified entry.
type decodedEntry struct {
	header  entryHeader
	payload []byte
}

// readEntry reads one entry from f at its current offset. ok is false with
// a nil error at a clean EOF or at a torn (partially written) tail; err is
// non-nil when a complete entry fails its CRC check.
func readEntry(f *os.File) (decodedEntry, bool, error) {
	hdrBuf := make([]byte, entryHeaderSize)
	n, err := io.ReadFull(f, hdrBuf)
	if err == io.EOF && n == 0 {
		return decodedEntry{}, false, nil
	}
	if err != nil {
		// A torn header (partial read) is a normal unsealed-segment tail,
		// not corruption: stop here without error.
		return decodedEntry{}, false, nil
	}
	hdr, wantCRC, err := decodeEntryHeader(hdrBuf)
	if err != nil {
		return decodedEntry{}, false, err
	}
	payload := make([]byte, hdr.entrySize)
	if _, err := io.ReadFull(f, payload); err != nil {
		// Torn payload: same treatment as a torn header.
		return decodedEntry{}, false, nil
	}
	crcInput := append(append([]byte{}, hdrBuf[0:21]...), payload...)
	if crc32.ChecksumIEEE(crcInput) != wantCRC {
		return decodedEntry{}, false, errkind.Wrap(errkind.ErrCorruptedData, "wal: entry crc mismatch at lsn %d", hdr.lsn)
	}
	return decodedEntry{header: hdr, payload: payload}, true, nil
}

// Applier is the set of store mutators WAL replay drives. store.Store
// implements this directly.
type Applier interface {
	AddNode(id uint64, kind uint8, props []byte) (uint32, error)
	AddEdge(from, to uint64, label uint16, props []byte) (uint32, error)
	AddEmbedding(nodeID uint64, vector []float32) (uint32, error)
	DeleteNode(id uint64) error
	DeleteEdge(from, to uint64, label uint16) error
	DeleteEmbedding(nodeID uint64) error
}

// ReplayStats summarizes a replay pass, for startup logging.
type ReplayStats struct {
	SegmentsScanned  int
	SegmentsSkipped  int
	EntriesApplied   int
	DeferredApplied  int
	EntriesUnsatisfied int
	LastLSN          uint64
}

// deferredEdge is an edge_insert entry whose endpoint node didn't exist yet
// when first encountered (spec §4.3: "edge before node").
type deferredEdge struct {
	from, to uint64
	label    uint16
	props    []byte
}

// Replay enumerates every segment in dir in ascending id order and applies
// each entry to apply, bypassing WAL append (replay is idempotent w.r.t.
// the log). A segment whose header CRC fails is skipped entirely; within a
// surviving segment, an entry CRC failure stops replay for that segment
// without touching the rest (spec §4.3: never recover past a torn write).
func Replay(dir string, apply Applier) (ReplayStats, error) {
	var stats ReplayStats

	ids, err := existingSegmentIDs(dir)
	if err != nil {
		return stats, errkind.Wrap(errkind.ErrIOError, "wal: list segments: %v", err)
	}

	var deferredEdges []deferredEdge

	for _, id := range ids {
		stats.SegmentsScanned++
		path := segmentPath(dir, id)
		f, err := os.Open(path)
		if err != nil {
			stats.SegmentsSkipped++
			continue
		}

		hdrBuf := make([]byte, segmentHeaderSize)
		if _, err := io.ReadFull(f, hdrBuf); err != nil {
			f.Close()
			stats.SegmentsSkipped++
			continue
		}
		if _, err := decodeSegmentHeader(hdrBuf); err != nil {
			f.Close()
			stats.SegmentsSkipped++
			continue
		}

		for {
			entry, ok, err := readEntry(f)
			if err != nil {
				break // torn/corrupt entry: stop replay for this segment
			}
			if !ok {
				break
			}
			stats.LastLSN = entry.header.lsn
			if deferred, applied := applyEntry(apply, entry); applied {
				stats.EntriesApplied++
			} else if deferred != nil {
				deferredEdges = append(deferredEdges, *deferred)
			}
		}
		f.Close()
	}

	// Second pass: retry deferred edges now that every segment's nodes have
	// been applied. Entries still unsatisfiable are counted and skipped.
	var stillDeferred []deferredEdge
	for _, d := range deferredEdges {
		if _, err := apply.AddEdge(d.from, d.to, d.label, d.props); err != nil {
			stillDeferred = append(stillDeferred, d)
			continue
		}
		stats.DeferredApplied++
	}
	stats.EntriesUnsatisfied = len(stillDeferred)

	return stats, nil
}

// applyEntry applies a single decoded entry. If it is an edge_insert whose
// endpoint node is not yet live, it returns a non-nil *deferredEdge instead
// of applying it.
func applyEntry(apply Applier, e decodedEntry) (*deferredEdge, bool) {
	switch e.header.entryType {
	case EntryNodeInsert, EntryNodeUpdate:
		id, kind, props, ok := decodeNodePayload(e.payload)
		if !ok {
			return nil, false
		}
		if _, err := apply.AddNode(id, kind, props); err != nil {
			// node_update over an existing node: replace it.
			if apply.DeleteNode(id) == nil {
				apply.AddNode(id, kind, props)
			}
		}
		return nil, true
	case EntryNodeDelete:
		id, ok := decodeNodeDeletePayload(e.payload)
		if !ok {
			return nil, false
		}
		apply.DeleteNode(id)
		return nil, true
	case EntryEdgeInsert, EntryEdgeUpdate:
		from, to, label, props, ok := decodeEdgePayload(e.payload)
		if !ok {
			return nil, false
		}
		if _, err := apply.AddEdge(from, to, label, props); err != nil {
			if errKindIsNodeNotFound(err) {
				return &deferredEdge{from: from, to: to, label: label, props: props}, false
			}
			// edge_update over an existing edge: replace it.
			if apply.DeleteEdge(from, to, label) == nil {
				apply.AddEdge(from, to, label, props)
			}
		}
		return nil, true
	case EntryEdgeDelete:
		from, to, label, ok := decodeEdgeDeletePayload(e.payload)
		if !ok {
			return nil, false
		}
		apply.DeleteEdge(from, to, label)
		return nil, true
	case EntryEmbeddingInsert, EntryEmbeddingUpdate:
		nodeID, vec, ok := decodeEmbeddingPayload(e.payload)
		if !ok {
			return nil, false
		}
		if _, err := apply.AddEmbedding(nodeID, vec); err != nil {
			if apply.DeleteEmbedding(nodeID) == nil {
				apply.AddEmbedding(nodeID, vec)
			}
		}
		return nil, true
	case EntryEmbeddingDelete:
		nodeID, ok := decodeEmbeddingDeletePayload(e.payload)
		if !ok {
			return nil, false
		}
		apply.DeleteEmbedding(nodeID)
		return nil, true
	case EntryTxnBegin, EntryTxnCommit, EntryTxnAbort, EntryCheckpoint, EntrySegmentRotate:
		return nil, true
	default:
		return nil, true
	}
}

func errKindIsNodeNotFound(err error) bool {
	return errors.Is(err, errkind.ErrNodeNotFound)
}

// --- Payload encode/decode -------------------------------------------------

// EncodeNodePayload builds a node_insert/node_update payload: id(8) kind(1)
// props_len(4) props.
func EncodeNodePayload(id uint64, kind uint8, props []byte) []byte {
	buf := make([]byte, 8+1+4+len(props))
	binary.LittleEndian.PutUint64(buf[0:8], id)
	buf[8] = kind
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(props)))
	copy(buf[13:], props)
	return buf
}

func decodeNodePayload(b []byte) (id uint64, kind uint8, props []byte, ok bool) {
	if len(b) < 13 {
		return 0, 0, nil, false
	}
	id = binary.LittleEndian.Uint64(b[0:8])
	kind = b[8]
	plen := binary.LittleEndian.Uint32(b[9:13])
	if uint64(len(b)) < 13+uint64(plen) {
		return 0, 0, nil, false
	}
	props = b[13 : 13+int(plen)]
	return id, kind, props, true
}

// EncodeNodeDeletePayload builds a node_delete payload: id(8).
func EncodeNodeDeletePayload(id uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return buf
}

func decodeNodeDeletePayload(b []byte) (id uint64, ok bool) {
	if len(b) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[0:8]), true
}

// EncodeEdgePayload builds an edge_insert/edge_update payload: from(8)
// to(8) label(2) props_len(4) props.
func EncodeEdgePayload(from, to uint64, label uint16, props []byte) []byte {
	buf := make([]byte, 8+8+2+4+len(props))
	binary.LittleEndian.PutUint64(buf[0:8], from)
	binary.LittleEndian.PutUint64(buf[8:16], to)
	binary.LittleEndian.PutUint16(buf[16:18], label)
	binary.LittleEndian.PutUint32(buf[18:22], uint32(len(props)))
	copy(buf[22:], props)
	return buf
}

func decodeEdgePayload(b []byte) (from, to uint64, label uint16, props []byte, ok bool) {
	if len(b) < 22 {
		return 0, 0, 0, nil, false
	}
	from = binary.LittleEndian.Uint64(b[0:8])
	to = binary.LittleEndian.Uint64(b[8:16])
	label = binary.LittleEndian.Uint16(b[16:18])
	plen := binary.LittleEndian.Uint32(b[18:22])
	if uint64(len(b)) < 22+uint64(plen) {
		return 0, 0, 0, nil, false
	}
	props = b[22 : 22+int(plen)]
	return from, to, label, props, true
}

// EncodeEdgeDeletePayload builds an edge_delete payload: from(8) to(8) label(2).
func EncodeEdgeDeletePayload(from, to uint64, label uint16) []byte {
	buf := make([]byte, 18)
	binary.LittleEndian.PutUint64(buf[0:8], from)
	binary.LittleEndian.PutUint64(buf[8:16], to)
	binary.LittleEndian.PutUint16(buf[16:18], label)
	return buf
}

func decodeEdgeDeletePayload(b []byte) (from, to uint64, label uint16, ok bool) {
	if len(b) < 18 {
		return 0, 0, 0, false
	}
	from = binary.LittleEndian.Uint64(b[0:8])
	to = binary.LittleEndian.Uint64(b[8:16])
	label = binary.LittleEndian.Uint16(b[16:18])
	return from, to, label, true
}

// EncodeEmbeddingPayload builds an embedding_insert/embedding_update
// payload: node_id(8) dim(4) vector (dim * 4 bytes, IEEE-754 float32 LE).
func EncodeEmbeddingPayload(nodeID uint64, vector []float32) []byte {
	buf := make([]byte, 8+4+len(vector)*4)
	binary.LittleEndian.PutUint64(buf[0:8], nodeID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[12+i*4:16+i*4], math.Float32bits(v))
	}
	return buf
}

func decodeEmbeddingPayload(b []byte) (nodeID uint64, vector []float32, ok bool) {
	if len(b) < 12 {
		return 0, nil, false
	}
	nodeID = binary.LittleEndian.Uint64(b[0:8])
	dim := binary.LittleEndian.Uint32(b[8:12])
	if uint64(len(b)) < 12+uint64(dim)*4 {
		return 0, nil, false
	}
	vector = make([]float32, dim)
	for i := range vector {
		off := 12 + i*4
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	}
	return nodeID, vector, true
}

// EncodeEmbeddingDeletePayload builds an embedding_delete payload: node_id(8).
func EncodeEmbeddingDeletePayload(nodeID uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, nodeID)
	return buf
}

func decodeEmbeddingDeletePayload(b []byte) (nodeID uint64, ok bool) {
	if len(b) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[0:8]), true
}

