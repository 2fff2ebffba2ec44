package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore with the coder/hnsw graph. Vectors are
// unit-normalized on the way in, so cosine distance is in [0, 2].
//
// coder/hnsw keys are uint64; chunk IDs are mapped to monotonically increasing
// keys. Replacing an ID orphans its old node instead of deleting it from the
// graph, and orphans are skipped at query time.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates an empty HNSW store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw store needs positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors, replacing any existing entry with the same ID.
func (s *HNSWStore) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	nodes := make([]hnsw.Node[uint64], 0, len(ids))
	for i, id := range ids {
		if old, ok := s.idMap[id]; ok {
			delete(s.keyMap, old)
		}
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		nodes = append(nodes, hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	s.graph.Add(nodes...)
	return nil
}

// Search finds the k nearest live vectors.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.idMap) == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	// Ask for extra neighbours to make up for orphaned nodes.
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(q, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		d := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{ID: id, Distance: d, Score: distanceToScore(d)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Contains reports whether id has a live vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok && !s.closed
}

// Count returns number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Orphans returns the number of replaced nodes still in the graph.
func (s *HNSWStore) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Len() - len(s.idMap)
}

// Close releases the graph.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.idMap = map[string]uint64{}
	s.keyMap = map[uint64]string{}
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance (0 identical, 2 opposite) to 0-1.
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
