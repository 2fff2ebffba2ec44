// Package index builds, persists and publishes immutable index generations.
//
// A Generation bundles the chunk table, the lexical index and the vector
// store built from one corpus load. The Manager publishes the current
// generation through an atomic pointer; requests pin the generation they
// start with and keep using it even if a reindex swaps in a newer one.
package index

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/store"
)

// Generation is one immutable build of the corpus indexes.
type Generation struct {
	ID         uint64
	BuiltAt    time.Time
	EmbedModel string
	Dimensions int

	chunks  map[string]*store.Chunk
	vectors map[string][]float32
	lexical store.LexicalIndex
	dense   store.VectorStore // nil when no embeddings were available

	// refs starts at 1 for the Manager; the generation closes its indexes
	// when the last holder releases it.
	refs atomic.Int64
}

func newGeneration(id uint64, builtAt time.Time) *Generation {
	g := &Generation{
		ID:      id,
		BuiltAt: builtAt,
		chunks:  make(map[string]*store.Chunk),
		vectors: make(map[string][]float32),
	}
	g.refs.Store(1)
	return g
}

// Lexical returns the lexical index.
func (g *Generation) Lexical() store.LexicalIndex { return g.lexical }

// Dense returns the vector store, or nil if this generation has no embeddings.
func (g *Generation) Dense() store.VectorStore { return g.dense }

// EmbeddingSpace returns the embedding model and width the vectors were
// built with.
func (g *Generation) EmbeddingSpace() (string, int) { return g.EmbedModel, g.Dimensions }

// DenseReady reports whether dense retrieval can serve this generation.
func (g *Generation) DenseReady() bool { return g.dense != nil && g.dense.Count() > 0 }

// Count returns the number of chunks.
func (g *Generation) Count() int { return len(g.chunks) }

// Contains reports whether id belongs to this generation.
func (g *Generation) Contains(id string) bool {
	_, ok := g.chunks[id]
	return ok
}

// Chunk returns a copy of the chunk with id.
func (g *Generation) Chunk(id string) (*store.Chunk, bool) {
	c, ok := g.chunks[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Content returns a chunk's text without copying metadata.
func (g *Generation) Content(id string) (string, bool) {
	c, ok := g.chunks[id]
	if !ok {
		return "", false
	}
	return c.Content, true
}

// ChunkIDs returns every chunk id in ascending order.
func (g *Generation) ChunkIDs() []string {
	ids := make([]string, 0, len(g.chunks))
	for id := range g.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Vector returns the stored embedding for id.
func (g *Generation) Vector(id string) ([]float32, bool) {
	v, ok := g.vectors[id]
	return v, ok
}

// tryAcquire adds a reference unless the generation is already retired.
func (g *Generation) tryAcquire() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference taken by Manager.Acquire.
func (g *Generation) Release() {
	if g == nil {
		return
	}
	if g.refs.Add(-1) == 0 {
		g.close()
	}
}

func (g *Generation) close() {
	if g.lexical != nil {
		if err := g.lexical.Close(); err != nil {
			slog.Debug("generation_close_lexical", slog.Uint64("generation", g.ID), slog.String("error", err.Error()))
		}
	}
	if g.dense != nil {
		if err := g.dense.Close(); err != nil {
			slog.Debug("generation_close_dense", slog.Uint64("generation", g.ID), slog.String("error", err.Error()))
		}
	}
}

// Assembly describes how to turn a chunk table into a generation.
type Assembly struct {
	LexicalBackend string
	DenseBackend   string
	BM25           store.BM25Config
}

// assemble indexes chunks and vectors into a new generation. Vectors whose
// width differs from dims are dropped; if none remain the generation has no
// dense index.
func assemble(ctx context.Context, a Assembly, id uint64, builtAt time.Time, model string, dims int,
	chunks []*store.Chunk, vectors map[string][]float32) (*Generation, error) {
	g := newGeneration(id, builtAt)
	g.EmbedModel = model
	g.Dimensions = dims

	docs := make([]*store.Document, 0, len(chunks))
	for _, c := range chunks {
		g.chunks[c.ID] = c.Clone()
		docs = append(docs, &store.Document{ID: c.ID, Content: c.Content})
	}

	lexical, err := store.NewLexicalIndex(a.LexicalBackend, a.BM25)
	if err != nil {
		return nil, err
	}
	if err := lexical.Index(ctx, docs); err != nil {
		_ = lexical.Close()
		return nil, err
	}
	g.lexical = lexical

	ids := make([]string, 0, len(vectors))
	vecs := make([][]float32, 0, len(vectors))
	for _, c := range chunks {
		v, ok := vectors[c.ID]
		if !ok || dims <= 0 || len(v) != dims {
			continue
		}
		g.vectors[c.ID] = v
		ids = append(ids, c.ID)
		vecs = append(vecs, v)
	}
	if len(ids) == 0 {
		return g, nil
	}

	dense, err := store.NewVectorStore(a.DenseBackend, store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = lexical.Close()
		return nil, err
	}
	if err := dense.Add(ctx, ids, vecs); err != nil {
		_ = lexical.Close()
		_ = dense.Close()
		return nil, err
	}
	g.dense = dense
	return g, nil
}
