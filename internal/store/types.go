// Package store holds the retrieval indexes (lexical and vector) and the
// durable per-chunk reputation store.
package store

import (
	"context"
	"fmt"
)

// ChunkKind classifies where a chunk came from.
type ChunkKind string

const (
	KindLog        ChunkKind = "log"
	KindJSONReport ChunkKind = "json-report"
	KindTicket     ChunkKind = "ticket"
	KindDoc        ChunkKind = "doc"
	KindGeneric    ChunkKind = "generic"
)

// Chunk is one retrievable unit of historical text. Content never changes
// inside an index generation; reputation lives in a ReputationStore.
type Chunk struct {
	ID       string            // hex(sha256(source#ordinal\x00content))[:32]
	Content  string            // Text shown to rankers and the generator
	Source   string            // File path, issue URL or wiki page
	Kind     ChunkKind         // log, json-report, ticket, doc, generic
	Metadata map[string]string // Source-specific extras (issue number, labels, title)
}

// Clone returns a deep copy so callers never share the generation's map.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Document is the text handed to a lexical index.
type Document struct {
	ID      string // Chunk ID
	Content string
}

// LexicalResult is one lexical hit. Score is >= 0 and higher is better.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex ranks chunks by term overlap with a query.
type LexicalIndex interface {
	// Index adds documents. Re-adding an ID replaces it.
	Index(ctx context.Context, docs []*Document) error

	// Search returns at most limit results, best first. An empty index or a
	// query with no indexable terms yields an empty slice and no error.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Count returns the number of indexed documents.
	Count() int

	Close() error
}

// BM25Config configures lexical scoring and tokenization.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are dropped from documents and queries. Exception class
// names, service names and identifiers all survive.
var DefaultStopWords = []string{
	"the", "an", "and", "or", "of", "to", "in", "on", "at", "by", "for",
	"is", "are", "was", "were", "be", "been", "it", "its", "this", "that",
	"with", "as", "from", "when", "while", "how", "what", "why", "do", "does",
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Cosine similarity mapped to 0-1, higher is better
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector width; every Add and Search must match it.
	Dimensions int

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore is the approximate nearest-neighbour oracle behind dense retrieval.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'fixrecall reindex')", e.Expected, e.Got)
}
