package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

// Scorer is a pairwise relevance oracle. It returns one score per document,
// in the order given; higher means more relevant to query.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	Name() string
	Close() error
}

// NoOpScorer is used when reranking is disabled. It is never called by
// Reranker; a disabled reranker only truncates.
type NoOpScorer struct{}

func (NoOpScorer) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	return make([]float64, len(documents)), nil
}
func (NoOpScorer) Name() string { return "noop" }
func (NoOpScorer) Close() error { return nil }

// RerankerOptions configures a Reranker.
type RerankerOptions struct {
	// Enabled false skips scoring and only truncates the fused list.
	Enabled bool
	TopN    int
	KeepTop int
	// Timeout bounds one scoring call.
	Timeout time.Duration
	// Breaker short-circuits the scorer after repeated failures. Optional.
	Breaker *fixerrors.CircuitBreaker
	// InitErr records a scorer that failed to start. Every Rerank degrades.
	InitErr error
}

// RerankOutcome describes what the reranker did for one request.
type RerankOutcome struct {
	Scored   int           `json:"scored"`
	Degraded bool          `json:"degraded"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Reranker rescores the fused top-N and keeps the best K.
type Reranker struct {
	scorer Scorer
	opts   RerankerOptions
}

// NewReranker creates a reranker. A nil scorer with Enabled set behaves
// like a scorer that failed to initialize.
func NewReranker(scorer Scorer, opts RerankerOptions) *Reranker {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.KeepTop <= 0 {
		opts.KeepTop = DefaultKeepTop
	}
	if opts.KeepTop > opts.TopN {
		opts.KeepTop = opts.TopN
	}
	if opts.Enabled && scorer == nil && opts.InitErr == nil {
		opts.InitErr = fmt.Errorf("no scorer configured")
	}
	return &Reranker{scorer: scorer, opts: opts}
}

// KeepTop returns the number of candidates a rerank yields at most.
func (r *Reranker) KeepTop() int { return r.opts.KeepTop }

// Rerank scores the first TopN fused candidates with the oracle and returns
// them sorted by rerank score (ties keep fused order), truncated to KeepTop.
//
// Any scorer failure is absorbed: the fused order truncated to KeepTop is
// returned unchanged and the outcome is marked degraded.
func (r *Reranker) Rerank(ctx context.Context, query string, fused []*Candidate, content func(chunkID string) (string, bool)) ([]*Candidate, RerankOutcome) {
	start := time.Now()
	head := fused
	if len(head) > r.opts.TopN {
		head = head[:r.opts.TopN]
	}

	out := make([]*Candidate, len(head))
	for i, c := range head {
		out[i] = c.clone()
	}

	if !r.opts.Enabled || len(out) == 0 {
		return truncate(out, r.opts.KeepTop), RerankOutcome{Duration: time.Since(start)}
	}

	if r.opts.InitErr != nil {
		return r.degrade(query, out, start, fixerrors.RerankerUnavailable("reranker failed to initialize", r.opts.InitErr))
	}

	docs := make([]string, len(out))
	for i, c := range out {
		if text, ok := content(c.ChunkID); ok {
			docs[i] = text
		}
	}

	scores, err := fixerrors.Guard(r.opts.Breaker, func() ([]float64, error) {
		callCtx := ctx
		if r.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
		}
		scores, err := r.scorer.Score(callCtx, query, docs)
		if err != nil {
			return nil, err
		}
		if len(scores) != len(docs) {
			return nil, fmt.Errorf("scorer returned %d scores for %d documents", len(scores), len(docs))
		}
		return scores, nil
	})
	if err != nil {
		return r.degrade(query, out, start, fixerrors.RerankerUnavailable("rerank scoring failed", err))
	}

	for i, c := range out {
		c.RerankScore = floatPtr(scores[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})

	return truncate(out, r.opts.KeepTop), RerankOutcome{
		Scored:   len(docs),
		Duration: time.Since(start),
	}
}

func (r *Reranker) degrade(query string, fused []*Candidate, start time.Time, err error) ([]*Candidate, RerankOutcome) {
	slog.Warn("rerank_degraded",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("candidates", len(fused)),
		slog.String("error", err.Error()))

	return truncate(fused, r.opts.KeepTop), RerankOutcome{
		Degraded: true,
		Reason:   err.Error(),
		Duration: time.Since(start),
	}
}

// Close releases the scorer.
func (r *Reranker) Close() error {
	if r.scorer == nil {
		return nil
	}
	return r.scorer.Close()
}

func truncate(c []*Candidate, k int) []*Candidate {
	if len(c) > k {
		return c[:k]
	}
	return c
}

// truncateQuery truncates a query string for logging
func truncateQuery(q string, maxLen int) string {
	if len(q) <= maxLen {
		return q
	}
	return q[:maxLen] + "..."
}
