// Package search implements hybrid retrieval: lexical and dense candidate
// generation, weighted min-max fusion with a reputation bias, and reranking.
package search

import (
	"fmt"
	"math"

	"github.com/Aman-CERP/fixrecall/internal/store"
)

// Default fusion and reranking parameters.
const (
	DefaultLexicalWeight  = 0.4
	DefaultDenseWeight    = 0.6
	DefaultReputationStep = 0.01
	DefaultReputationCap  = 0.05
	DefaultCandidatePool  = 20
	DefaultTopN           = 10
	DefaultKeepTop        = 5
)

// Weights controls the contribution of each ranking to the fused score.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Dense   float64 `json:"dense"`
}

// DefaultWeights returns 0.4 lexical / 0.6 dense.
func DefaultWeights() Weights {
	return Weights{Lexical: DefaultLexicalWeight, Dense: DefaultDenseWeight}
}

// Validate checks that weights are in [0,1] and sum to 1 within 0.01.
func (w Weights) Validate() error {
	if w.Lexical < 0 || w.Lexical > 1 || w.Dense < 0 || w.Dense > 1 {
		return fmt.Errorf("weights must be in [0,1], got lexical=%.2f dense=%.2f", w.Lexical, w.Dense)
	}
	if math.Abs(w.Lexical+w.Dense-1) > 0.01 {
		return fmt.Errorf("weights must sum to 1.0, got %.2f", w.Lexical+w.Dense)
	}
	return nil
}

// ReputationLookup returns the persisted reputation of a chunk; unknown chunks are 0.
type ReputationLookup func(chunkID string) int

// MapReputation adapts a snapshot map to a ReputationLookup.
func MapReputation(m map[string]int) ReputationLookup {
	return func(id string) int { return m[id] }
}

// Corpus is the read-only view of one index generation that search needs.
type Corpus interface {
	Lexical() store.LexicalIndex
	Dense() store.VectorStore
	Content(chunkID string) (string, bool)
	Count() int
}

// EmbeddingSpace identifies the model and width a corpus' vectors were built
// with. The zero value means unknown and is not checked.
type EmbeddingSpace struct {
	Model      string
	Dimensions int
}

// spaced is implemented by corpora that record their embedding model.
type spaced interface {
	EmbeddingSpace() (model string, dims int)
}

func spaceOf(c Corpus) EmbeddingSpace {
	if s, ok := c.(spaced); ok {
		model, dims := s.EmbeddingSpace()
		return EmbeddingSpace{Model: model, Dimensions: dims}
	}
	return EmbeddingSpace{}
}

// Candidate is one chunk moving through fusion and reranking.
// Scores that a stage did not produce are nil, not zero.
type Candidate struct {
	ChunkID string `json:"chunk_id"`

	// Raw scores from each ranking; nil when the chunk was absent from it.
	LexicalScore *float64 `json:"lexical_score,omitempty"`
	DenseScore   *float64 `json:"dense_score,omitempty"`

	// Min-max normalized scores; 0 when absent.
	NormLexical float64 `json:"norm_lexical"`
	NormDense   float64 `json:"norm_dense"`

	Reputation     int     `json:"reputation"`
	ReputationBias float64 `json:"reputation_bias"`
	FusedScore     float64 `json:"fused_score"`

	RerankScore *float64 `json:"rerank_score,omitempty"`

	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// clone copies c so a later stage never mutates an earlier stage's output.
func (c *Candidate) clone() *Candidate {
	out := *c
	if c.MatchedTerms != nil {
		out.MatchedTerms = append([]string(nil), c.MatchedTerms...)
	}
	return &out
}

func floatPtr(f float64) *float64 { return &f }
