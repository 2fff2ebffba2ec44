package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "chunks"

// errNoEmbedder is returned if chromem ever tries to embed text itself.
// Every document and query arrives with its vector already computed.
var errNoEmbedder = errors.New("chromem store accepts precomputed embeddings only")

// ChromemStore implements VectorStore on an in-memory chromem-go collection.
// chromem does exhaustive cosine search, so results are exact.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	config     VectorStoreConfig
	ids        map[string]struct{}
	closed     bool
}

var _ VectorStore = (*ChromemStore)(nil)

// NewChromemStore creates an empty in-memory chromem collection.
func NewChromemStore(cfg VectorStoreConfig) (*ChromemStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("chromem store needs positive dimensions, got %d", cfg.Dimensions)
	}
	db := chromem.NewDB()
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }
	collection, err := db.CreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", chromemCollection, err)
	}
	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     cfg,
		ids:        make(map[string]struct{}),
	}, nil
}

// Add inserts vectors, replacing any existing entry with the same ID.
func (s *ChromemStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
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

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)
		docs[i] = chromem.Document{ID: id, Embedding: vec}
	}

	// Embeddings are precomputed, so one goroutine is enough.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return nil
}

// Search returns the k most similar vectors.
func (s *ChromemStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	// chromem requires nResults <= document count.
	count := s.collection.Count()
	if k > count {
		k = count
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	hits, err := s.collection.QueryEmbedding(ctx, q, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", chromemCollection, err)
	}

	results := make([]*VectorResult, len(hits))
	for i, h := range hits {
		// Similarity is cosine similarity in [-1, 1]; distance follows hnsw's convention.
		d := 1 - h.Similarity
		results[i] = &VectorResult{ID: h.ID, Distance: d, Score: distanceToScore(d)}
	}
	return results, nil
}

// Contains reports whether id has a vector.
func (s *ChromemStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok && !s.closed
}

// Count returns number of vectors.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.collection.Count()
}

// Close drops the collection.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.DeleteCollection(chromemCollection)
}
