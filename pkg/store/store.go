// Package store implements NenDB's structure-of-arrays graph store
// (spec §4.2): the same logical content as the pool allocators, re-laid as
// parallel "hot" arrays (kind, active flag, from/to, label) so batch filter
// scans touch only the fields they need instead of whole entity structs.
// Identity, slot allocation, and generation counters are delegated to
// pkg/pool so the store never re-implements open-addressing or free-list
// bookkeeping; it only mirrors the fields a filter needs into dense slices
// kept in lockstep with the pool.
package store

import (
	"github.com/nen-co/nendb/pkg/errkind"
	"github.com/nen-co/nendb/pkg/model"
	"github.com/nen-co/nendb/pkg/pool"
	"github.com/nen-co/nendb/pkg/vecmath"
)

// Store is the in-memory graph: nodes, edges, and per-node embeddings.
type Store struct {
	nodes *pool.Pool[model.Node]
	edges *pool.Pool[model.Edge]
	embed *pool.Pool[model.Embedding]

	// Hot parallel arrays, mirrored in lockstep with the pools by slot
	// index. Sized to each pool's fixed capacity at construction.
	nodeKinds  []uint8
	nodeActive []bool

	edgeFrom   []uint64
	edgeTo     []uint64
	edgeLabels []uint16
	edgeActive []bool

	embedActive []bool
}

// New constructs a Store whose node/edge/embedding pools have the given
// fixed capacities (spec §4.1/§4.2: no runtime growth).
func New(nodeCapacity, edgeCapacity, embeddingCapacity uint32) *Store {
	return &Store{
		nodes: pool.New[model.Node](nodeCapacity),
		edges: pool.New[model.Edge](edgeCapacity),
		embed: pool.New[model.Embedding](embeddingCapacity),

		nodeKinds:  make([]uint8, nodeCapacity),
		nodeActive: make([]bool, nodeCapacity),

		edgeFrom:   make([]uint64, edgeCapacity),
		edgeTo:     make([]uint64, edgeCapacity),
		edgeLabels: make([]uint16, edgeCapacity),
		edgeActive: make([]bool, edgeCapacity),

		embedActive: make([]bool, embeddingCapacity),
	}
}

// NodeCount, EdgeCount, EmbeddingCount report live entity counts, for
// get_stats.
func (s *Store) NodeCount() uint32      { return s.nodes.UsedCount() }
func (s *Store) EdgeCount() uint32      { return s.edges.UsedCount() }
func (s *Store) EmbeddingCount() uint32 { return s.embed.UsedCount() }

// NodePool, EdgePool, EmbeddingPool expose the underlying pools for
// get_memory_stats and for the WAL replay path, which mutates pools
// directly rather than through these higher-level operations.
func (s *Store) NodePool() *pool.Pool[model.Node]           { return s.nodes }
func (s *Store) EdgePool() *pool.Pool[model.Edge]           { return s.edges }
func (s *Store) EmbeddingPool() *pool.Pool[model.Embedding] { return s.embed }

// AddNode inserts a node. id == 0 is rejected (spec §3 invariant 1).
func (s *Store) AddNode(id uint64, kind uint8, props []byte) (uint32, error) {
	if id == 0 {
		return 0, errkind.Wrap(errkind.ErrInvalidID, "node id must be non-zero")
	}
	var n model.Node
	n.ID = id
	n.Kind = kind
	if len(props) > 0 && !n.SetProps(props) {
		return 0, errkind.Wrap(errkind.ErrInvalidConfiguration, "node props exceed %d bytes", model.MaxNodePropsLen)
	}
	slot, err := s.nodes.Alloc(id, n, errkind.ErrDuplicateNode)
	if err != nil {
		return 0, err
	}
	s.nodeKinds[slot] = kind
	s.nodeActive[slot] = true
	return slot, nil
}

// AddEdge inserts an edge from -> to. Both endpoints must reference live
// nodes (spec §3 invariant 3); self-edges (from == to) are permitted at
// this layer, matching spec §4.2's silence on the case.
func (s *Store) AddEdge(from, to uint64, label uint16, props []byte) (uint32, error) {
	if !s.nodes.Exists(from) || !s.nodes.Exists(to) {
		return 0, errkind.ErrNodeNotFound
	}
	var e model.Edge
	e.From = from
	e.To = to
	e.Label = label
	if len(props) > 0 && !e.SetProps(props) {
		return 0, errkind.Wrap(errkind.ErrInvalidConfiguration, "edge props exceed %d bytes", model.MaxEdgePropsLen)
	}
	key := model.EdgeKey(from, to, label)
	slot, err := s.edges.Alloc(key, e, errkind.ErrDuplicateEdge)
	if err != nil {
		return 0, err
	}
	s.edgeFrom[slot] = from
	s.edgeTo[slot] = to
	s.edgeLabels[slot] = label
	s.edgeActive[slot] = true
	return slot, nil
}

// AddEmbedding attaches a dense vector to nodeID. At most one active
// embedding per node (spec §9's resolved open question): a second call for
// the same node fails with ErrDuplicateNode via the embedding pool's
// identity key (model.Embedding.Key returns NodeID).
func (s *Store) AddEmbedding(nodeID uint64, vector []float32) (uint32, error) {
	if !s.nodes.Exists(nodeID) {
		return 0, errkind.ErrNodeNotFound
	}
	if len(vector) == 0 {
		return 0, errkind.Wrap(errkind.ErrInvalidConfiguration, "embedding vector must be non-empty")
	}
	emb := model.Embedding{NodeID: nodeID, Vector: append([]float32(nil), vector...)}
	slot, err := s.embed.Alloc(nodeID, emb, errkind.ErrDuplicateNode)
	if err != nil {
		return 0, err
	}
	s.embedActive[slot] = true
	return slot, nil
}

// DeleteNode clears node id's active flag and bumps its generation,
// without compacting the array (spec §4.2).
func (s *Store) DeleteNode(id uint64) error {
	_, slot, ok := s.nodes.GetByKey(id)
	if !ok {
		return errkind.ErrNodeNotFound
	}
	if err := s.nodes.Free(slot); err != nil {
		return err
	}
	s.nodeActive[slot] = false
	return nil
}

// DeleteEdge clears the (from, to, label) edge's active flag and bumps its
// generation, without compacting the array.
func (s *Store) DeleteEdge(from, to uint64, label uint16) error {
	key := model.EdgeKey(from, to, label)
	_, slot, ok := s.edges.GetByKey(key)
	if !ok {
		return errkind.ErrEdgeNotFound
	}
	if err := s.edges.Free(slot); err != nil {
		return err
	}
	s.edgeActive[slot] = false
	return nil
}

// DeleteEmbedding removes nodeID's active embedding, if any.
func (s *Store) DeleteEmbedding(nodeID uint64) error {
	_, slot, ok := s.embed.GetByKey(nodeID)
	if !ok {
		return errkind.ErrNodeNotFound
	}
	if err := s.embed.Free(slot); err != nil {
		return err
	}
	s.embedActive[slot] = false
	return nil
}

// FilterNodesByKind scans node_kinds[], writing the slot index of every
// active node whose kind matches into out, up to len(out). Returns the
// number of indices written.
func (s *Store) FilterNodesByKind(kind uint8, out []uint32) uint32 {
	var n uint32
	for i := range s.nodeKinds {
		if int(n) >= len(out) {
			break
		}
		if s.nodeActive[i] && s.nodeKinds[i] == kind {
			out[n] = uint32(i)
			n++
		}
	}
	return n
}

// FilterEdgesByLabel is FilterNodesByKind's edge-label symmetric.
func (s *Store) FilterEdgesByLabel(label uint16, out []uint32) uint32 {
	var n uint32
	for i := range s.edgeLabels {
		if int(n) >= len(out) {
			break
		}
		if s.edgeActive[i] && s.edgeLabels[i] == label {
			out[n] = uint32(i)
			n++
		}
	}
	return n
}

// FindEdgesByNode scans edge_from[] (outgoing=true) or edge_to[]
// (outgoing=false) for edges touching nodeID, writing matching slot
// indices into out up to len(out). Returns the number written.
func (s *Store) FindEdgesByNode(nodeID uint64, outgoing bool, out []uint32) uint32 {
	endpoints := s.edgeTo
	if outgoing {
		endpoints = s.edgeFrom
	}
	var n uint32
	for i := range endpoints {
		if int(n) >= len(out) {
			break
		}
		if s.edgeActive[i] && endpoints[i] == nodeID {
			out[n] = uint32(i)
			n++
		}
	}
	return n
}

// SimilarNode is one CosineTopK result.
type SimilarNode struct {
	NodeID uint64
	Score  float64
}

// CosineTopK scans every active embedding, scoring it against query via
// cosine similarity, and returns the k highest-scoring (NodeID, Score)
// pairs, ordered by descending score with ties broken by ascending node
// id (spec §3 edge case 6). O(capacity · dim + capacity·log k); the spec
// does not require an ANN index, only that top-K be correct.
func (s *Store) CosineTopK(query []float32, k int) []SimilarNode {
	if k <= 0 {
		return nil
	}
	results := make([]SimilarNode, 0, k+1)
	s.embed.ForEachActive(func(_ uint32, v model.Embedding) bool {
		score := vecmath.CosineSimilarity(query, v.Vector)
		// Insertion-sort into the bounded results slice, kept sorted by
		// descending score then ascending node id throughout, so the
		// boundary element dropped at the k-cutoff is always the
		// highest-id tie rather than whichever happened to be inserted
		// first; k is expected to be small relative to the embedding
		// pool's capacity.
		pos := len(results)
		for pos > 0 && (results[pos-1].Score < score ||
			(results[pos-1].Score == score && results[pos-1].NodeID > v.NodeID)) {
			pos--
		}
		if pos >= k {
			return true
		}
		results = append(results, SimilarNode{})
		copy(results[pos+1:], results[pos:])
		results[pos] = SimilarNode{NodeID: v.NodeID, Score: score}
		if len(results) > k {
			results = results[:k]
		}
		return true
	})
	return results
}
