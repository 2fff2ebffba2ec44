package search

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/embed"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

// DefaultDenseTimeout bounds query embedding plus the neighbor search.
const DefaultDenseTimeout = 10 * time.Second

// DenseRetriever embeds the query and asks a generation's vector store for
// neighbors. Every failure is reported as RetrievalUnavailable, never as an
// empty list, so fusion can tell "nothing similar" from "could not ask".
type DenseRetriever struct {
	embedder embed.Embedder
	timeout  time.Duration
	breaker  *fixerrors.CircuitBreaker
}

// NewDenseRetriever creates the adapter. breaker may be nil.
func NewDenseRetriever(embedder embed.Embedder, timeout time.Duration, breaker *fixerrors.CircuitBreaker) *DenseRetriever {
	if timeout <= 0 {
		timeout = DefaultDenseTimeout
	}
	return &DenseRetriever{embedder: embedder, timeout: timeout, breaker: breaker}
}

// NearestNeighbors returns up to topK chunks ordered by similarity, best first.
// A query embedder whose model or width differs from space cannot be compared
// with the stored vectors and is reported as RetrievalUnavailable.
func (d *DenseRetriever) NearestNeighbors(ctx context.Context, vectors store.VectorStore, space EmbeddingSpace, query string, topK int) ([]*store.VectorResult, error) {
	if d == nil || d.embedder == nil {
		return nil, fixerrors.RetrievalUnavailable("no embedder configured", nil)
	}
	if vectors == nil {
		return nil, fixerrors.RetrievalUnavailable("dense index not built for this generation", nil)
	}
	if space.Model != "" && space.Model != d.embedder.ModelName() {
		return nil, fixerrors.RetrievalUnavailable("query embedder does not match index model", nil).
			WithDetail("index_model", space.Model).
			WithDetail("query_model", d.embedder.ModelName())
	}
	if space.Dimensions > 0 && space.Dimensions != d.embedder.Dimensions() {
		return nil, fixerrors.RetrievalUnavailable(
			fmt.Sprintf("query embedder has %d dimensions, index has %d", d.embedder.Dimensions(), space.Dimensions), nil)
	}
	if vectors.Count() == 0 {
		return []*store.VectorResult{}, nil
	}

	results, err := fixerrors.Guard(d.breaker, func() ([]*store.VectorResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		vec, err := d.embedder.Embed(callCtx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return vectors.Search(callCtx, vec, topK)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fixerrors.RetrievalUnavailable("dense retrieval failed", err)
	}
	if results == nil {
		results = []*store.VectorResult{}
	}
	return results, nil
}
