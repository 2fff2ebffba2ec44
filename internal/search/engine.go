package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

// Degraded-mode markers attached to a search result.
const (
	DegradedRetrieval  = "retrieval"
	DegradedLexical    = "lexical"
	DegradedReputation = "reputation"
	DegradedReranker   = "reranker"
)

// Engine runs lexical and dense retrieval in parallel, fuses the two
// rankings and reranks the head of the fused list.
type Engine struct {
	dense      *DenseRetriever
	fuser      *Fuser
	reranker   *Reranker
	reputation store.ReputationStore
	weights    Weights
	pool       int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithReranker sets the second-stage reranker.
func WithReranker(r *Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithReputation sets the store read for the fusion bias.
func WithReputation(rs store.ReputationStore) EngineOption {
	return func(e *Engine) { e.reputation = rs }
}

// WithWeights overrides the 0.4/0.6 default weights.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) { e.weights = w }
}

// WithFuser overrides the reputation bias parameters.
func WithFuser(f *Fuser) EngineOption {
	return func(e *Engine) { e.fuser = f }
}

// WithCandidatePool sets how many results each ranker contributes.
func WithCandidatePool(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pool = n
		}
	}
}

// NewEngine creates a search engine. dense may be nil for lexical-only search.
func NewEngine(dense *DenseRetriever, opts ...EngineOption) *Engine {
	e := &Engine{
		dense:    dense,
		fuser:    NewFuser(),
		reranker: NewReranker(nil, RerankerOptions{}),
		weights:  DefaultWeights(),
		pool:     DefaultCandidatePool,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieval holds both raw rankings for one query.
type Retrieval struct {
	Lexical  []*store.LexicalResult
	Dense    []*store.VectorResult
	Degraded []string

	LexicalErr error
	DenseErr   error
	Duration   time.Duration
}

// Result is the outcome of a full search.
type Result struct {
	// Candidates is the final list after reranking.
	Candidates []*Candidate
	// Fused is the complete fused list before reranking.
	Fused    []*Candidate
	Degraded []string
	Rerank   RerankOutcome

	LexicalCount int
	DenseCount   int
	Duration     time.Duration
}

// Retrieve queries the lexical index and the dense adapter concurrently.
// A failure in one ranker is recorded and the other's results are kept;
// only both failing, or cancellation, returns an error.
func (e *Engine) Retrieve(ctx context.Context, corpus Corpus, query string) (*Retrieval, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fixerrors.New(fixerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	start := time.Now()
	ret := &Retrieval{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lex := corpus.Lexical()
		if lex == nil {
			ret.Lexical = []*store.LexicalResult{}
			return nil
		}
		results, err := lex.Search(gctx, query, e.pool)
		if err != nil {
			ret.LexicalErr = err
			return nil // keep dense results
		}
		ret.Lexical = results
		return nil
	})

	g.Go(func() error {
		results, err := e.dense.NearestNeighbors(gctx, corpus.Dense(), spaceOf(corpus), query, e.pool)
		if err != nil {
			ret.DenseErr = err
			return nil
		}
		ret.Dense = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ret.Duration = time.Since(start)

	if ret.LexicalErr != nil && ret.DenseErr != nil {
		return nil, fixerrors.InternalError("both rankers failed", errors.Join(ret.LexicalErr, ret.DenseErr))
	}
	if ret.LexicalErr != nil {
		slog.Warn("lexical_search_failed", slog.String("error", ret.LexicalErr.Error()))
		ret.Degraded = append(ret.Degraded, DegradedLexical)
	}
	if ret.DenseErr != nil {
		slog.Warn("retrieval_degraded",
			slog.String("query", truncateQuery(query, 50)),
			slog.String("error", ret.DenseErr.Error()))
		ret.Degraded = append(ret.Degraded, DegradedRetrieval)
	}
	return ret, nil
}

// Fuse combines a retrieval with current reputations. A reputation read
// failure fuses with zero bias and reports the reputation marker.
func (e *Engine) Fuse(ctx context.Context, ret *Retrieval) ([]*Candidate, []string) {
	var degraded []string
	var lookup ReputationLookup

	if e.reputation != nil {
		ids := unionIDs(ret)
		snap, err := e.reputation.Snapshot(ctx, ids)
		if err != nil {
			slog.Warn("reputation_snapshot_failed", slog.String("error", err.Error()))
			degraded = append(degraded, DegradedReputation)
		} else {
			lookup = MapReputation(snap)
		}
	}

	return e.fuser.Fuse(ret.Lexical, ret.Dense, e.weights, lookup), degraded
}

// Rerank applies the configured reranker using the generation's chunk text.
func (e *Engine) Rerank(ctx context.Context, corpus Corpus, query string, fused []*Candidate) ([]*Candidate, RerankOutcome) {
	return e.reranker.Rerank(ctx, query, fused, corpus.Content)
}

// Search runs retrieve, fuse and rerank against one corpus generation.
func (e *Engine) Search(ctx context.Context, corpus Corpus, query string) (*Result, error) {
	start := time.Now()

	ret, err := e.Retrieve(ctx, corpus, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	fused, fuseDegraded := e.Fuse(ctx, ret)
	final, outcome := e.Rerank(ctx, corpus, query, fused)

	degraded := append(append([]string{}, ret.Degraded...), fuseDegraded...)
	if outcome.Degraded {
		degraded = append(degraded, DegradedReranker)
	}

	res := &Result{
		Candidates:   final,
		Fused:        fused,
		Degraded:     degraded,
		Rerank:       outcome,
		LexicalCount: len(ret.Lexical),
		DenseCount:   len(ret.Dense),
		Duration:     time.Since(start),
	}

	slog.Debug("search_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("lexical", res.LexicalCount),
		slog.Int("dense", res.DenseCount),
		slog.Int("fused", len(fused)),
		slog.Int("returned", len(final)),
		slog.Any("degraded", degraded),
		slog.Duration("duration", res.Duration))

	return res, nil
}

// Close releases the reranker's scorer.
func (e *Engine) Close() error {
	return e.reranker.Close()
}

func unionIDs(ret *Retrieval) []string {
	seen := make(map[string]struct{}, len(ret.Lexical)+len(ret.Dense))
	ids := make([]string, 0, len(ret.Lexical)+len(ret.Dense))
	for _, r := range ret.Lexical {
		if _, ok := seen[r.ChunkID]; !ok {
			seen[r.ChunkID] = struct{}{}
			ids = append(ids, r.ChunkID)
		}
	}
	for _, r := range ret.Dense {
		if _, ok := seen[r.ID]; !ok {
			seen[r.ID] = struct{}{}
			ids = append(ids, r.ID)
		}
	}
	return ids
}
