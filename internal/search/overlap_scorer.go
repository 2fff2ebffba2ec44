package search

import (
	"context"

	"github.com/Aman-CERP/fixrecall/internal/store"
)

// OverlapScorer is an in-process scorer: the share of distinct query terms
// present in the document, with a small bonus for adjacent query term pairs.
// It needs no server and is the default when no rerank endpoint is set.
type OverlapScorer struct {
	tokenizer *store.Tokenizer
}

var _ Scorer = (*OverlapScorer)(nil)

// NewOverlapScorer creates a term-overlap scorer.
func NewOverlapScorer() *OverlapScorer {
	return &OverlapScorer{tokenizer: store.NewTokenizer(store.DefaultBM25Config())}
}

// Score rates each document against query in [0,1].
func (s *OverlapScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	qTerms := s.tokenizer.Tokenize(query)
	unique := make(map[string]struct{}, len(qTerms))
	for _, t := range qTerms {
		unique[t] = struct{}{}
	}

	scores := make([]float64, len(documents))
	if len(unique) == 0 {
		return scores, nil
	}

	for i, doc := range documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dTerms := s.tokenizer.Tokenize(doc)
		present := make(map[string]struct{}, len(dTerms))
		pairs := make(map[[2]string]struct{}, len(dTerms))
		for j, t := range dTerms {
			present[t] = struct{}{}
			if j > 0 {
				pairs[[2]string{dTerms[j-1], t}] = struct{}{}
			}
		}

		hits := 0
		for t := range unique {
			if _, ok := present[t]; ok {
				hits++
			}
		}
		coverage := float64(hits) / float64(len(unique))

		var adjacency float64
		if len(qTerms) > 1 {
			matched := 0
			for j := 1; j < len(qTerms); j++ {
				if _, ok := pairs[[2]string{qTerms[j-1], qTerms[j]}]; ok {
					matched++
				}
			}
			adjacency = float64(matched) / float64(len(qTerms)-1)
		}

		scores[i] = 0.8*coverage + 0.2*adjacency
	}
	return scores, nil
}

// Name identifies the scorer in logs.
func (s *OverlapScorer) Name() string { return "overlap" }

// Close is a no-op.
func (s *OverlapScorer) Close() error { return nil }
