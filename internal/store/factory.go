package store

import (
	"fmt"
	"strings"
)

// Lexical backend names accepted in lexical.backend.
const (
	LexicalBackendBM25   = "bm25"
	LexicalBackendBleve  = "bleve"
	LexicalBackendSQLite = "sqlite"
)

// Vector backend names accepted in dense.backend.
const (
	VectorBackendHNSW    = "hnsw"
	VectorBackendChromem = "chromem"
)

// NewLexicalIndex creates an empty lexical index for the named backend.
// An empty name selects the in-memory BM25 index.
func NewLexicalIndex(backend string, config BM25Config) (LexicalIndex, error) {
	switch strings.ToLower(backend) {
	case LexicalBackendBM25, "":
		return NewMemoryBM25Index(config), nil
	case LexicalBackendBleve:
		return NewBleveLexicalIndex()
	case LexicalBackendSQLite:
		return NewSQLiteLexicalIndex(config)
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: bm25, bleve, sqlite)", backend)
	}
}

// NewVectorStore creates an empty vector store for the named backend.
// An empty name selects HNSW.
func NewVectorStore(backend string, config VectorStoreConfig) (VectorStore, error) {
	switch strings.ToLower(backend) {
	case VectorBackendHNSW, "":
		return NewHNSWStore(config)
	case VectorBackendChromem:
		return NewChromemStore(config)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, chromem)", backend)
	}
}
