package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/embed"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

// fixedVectors returns canned neighbors regardless of the query vector.
type fixedVectors struct {
	results []*store.VectorResult
	err     error
}

func (f *fixedVectors) Add(context.Context, []string, [][]float32) error { return nil }
func (f *fixedVectors) Search(context.Context, []float32, int) ([]*store.VectorResult, error) {
	return f.results, f.err
}
func (f *fixedVectors) Contains(string) bool { return false }
func (f *fixedVectors) Count() int           { return len(f.results) + 1 }
func (f *fixedVectors) Close() error         { return nil }

type testCorpus struct {
	lexical store.LexicalIndex
	dense   store.VectorStore
	content map[string]string
}

func (c *testCorpus) Lexical() store.LexicalIndex { return c.lexical }
func (c *testCorpus) Dense() store.VectorStore    { return c.dense }
func (c *testCorpus) Count() int                  { return len(c.content) }
func (c *testCorpus) Content(id string) (string, bool) {
	s, ok := c.content[id]
	return s, ok
}

func newTestCorpus(t *testing.T, dense store.VectorStore) *testCorpus {
	t.Helper()
	content := map[string]string{
		"A": "NullPointerException in AuthService",
		"B": "Timeout connecting to database",
		"C": "AuthService login returned 500",
	}
	idx := store.NewMemoryBM25Index(store.DefaultBM25Config())
	docs := make([]*store.Document, 0, len(content))
	for id, text := range content {
		docs = append(docs, &store.Document{ID: id, Content: text})
	}
	require.NoError(t, idx.Index(context.Background(), docs))
	return &testCorpus{lexical: idx, dense: dense, content: content}
}

func newTestEngine(opts ...EngineOption) *Engine {
	dense := NewDenseRetriever(embed.NewStaticEmbedder(64), 0, nil)
	return NewEngine(dense, opts...)
}

func TestEngine_SearchFusesBothRankers(t *testing.T) {
	// Given: dense favors B, lexical favors A and C
	corpus := newTestCorpus(t, &fixedVectors{results: denseResults("B", 0.9, "A", 0.3)})
	e := newTestEngine()

	// When: searching
	res, err := e.Search(context.Background(), corpus, "NullPointerException AuthService line 42")

	// Then: the fused list covers the union and nothing is degraded
	require.NoError(t, err)
	assert.Empty(t, res.Degraded)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ids(res.Fused))
	assert.Equal(t, 2, res.DenseCount)
	assert.LessOrEqual(t, len(res.Candidates), DefaultKeepTop)
}

func TestEngine_DenseFailureDegradesToLexical(t *testing.T) {
	// Given: a vector store that errors
	corpus := newTestCorpus(t, &fixedVectors{err: errors.New("index offline")})
	e := newTestEngine()

	// When: searching
	res, err := e.Search(context.Background(), corpus, "AuthService")

	// Then: the request succeeds on lexical results alone
	require.NoError(t, err)
	assert.Equal(t, []string{DegradedRetrieval}, res.Degraded)
	assert.ElementsMatch(t, []string{"A", "C"}, ids(res.Fused))
	for _, c := range res.Fused {
		assert.Nil(t, c.DenseScore)
	}
}

func TestEngine_MissingDenseIndexDegrades(t *testing.T) {
	corpus := newTestCorpus(t, nil)

	ret, err := newTestEngine().Retrieve(context.Background(), corpus, "database")

	require.NoError(t, err)
	assert.Contains(t, ret.Degraded, DegradedRetrieval)
	assert.ErrorIs(t, ret.DenseErr, fixerrors.ErrRetrievalUnavailable)
	require.Len(t, ret.Lexical, 1)
	assert.Equal(t, "B", ret.Lexical[0].ChunkID)
}

func TestEngine_EmptyQueryIsRejected(t *testing.T) {
	corpus := newTestCorpus(t, nil)

	_, err := newTestEngine().Search(context.Background(), corpus, "   ")

	require.Error(t, err)
	assert.Equal(t, fixerrors.ErrCodeQueryEmpty, fixerrors.GetCode(err))
}

func TestEngine_ReputationReordersResults(t *testing.T) {
	// Given: lexical-only results where A and C both match "AuthService"
	corpus := newTestCorpus(t, nil)
	rs := store.NewMemoryReputationStore()
	e := newTestEngine(WithReputation(rs))

	before, err := e.Search(context.Background(), corpus, "AuthService")
	require.NoError(t, err)
	require.Len(t, before.Fused, 2)
	loser := before.Fused[1].ChunkID

	// When: the lower-ranked chunk earns enough reputation
	for i := 0; i < 5; i++ {
		_, _, err := rs.Apply(context.Background(), "", loser, +1)
		require.NoError(t, err)
	}
	after, err := e.Search(context.Background(), corpus, "AuthService")
	require.NoError(t, err)

	// Then: its bias is visible in the fused output
	var found *Candidate
	for _, c := range after.Fused {
		if c.ChunkID == loser {
			found = c
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 5, found.Reputation)
	assert.InDelta(t, 0.05, found.ReputationBias, 1e-12)
}

func TestEngine_RerankerFailureKeepsFusedOrder(t *testing.T) {
	// Given: a failing scorer
	scorer := &funcScorer{fn: func(string, []string) ([]float64, error) {
		return nil, errors.New("oracle down")
	}}
	corpus := newTestCorpus(t, &fixedVectors{results: denseResults("B", 0.9, "A", 0.3, "C", 0.1)})
	e := newTestEngine(WithReranker(NewReranker(scorer, RerankerOptions{Enabled: true, TopN: 10, KeepTop: 2})))

	// When: searching
	res, err := e.Search(context.Background(), corpus, "AuthService")

	// Then: the final list is the fused head, unchanged
	require.NoError(t, err)
	assert.Contains(t, res.Degraded, DegradedReranker)
	assert.Equal(t, ids(res.Fused[:2]), ids(res.Candidates))
}

func TestEngine_BothRankersFailing(t *testing.T) {
	corpus := newTestCorpus(t, &fixedVectors{err: errors.New("offline")})
	require.NoError(t, corpus.lexical.Close())

	_, err := newTestEngine().Search(context.Background(), corpus, "AuthService")

	assert.Error(t, err)
}

func TestEngine_CancelledContext(t *testing.T) {
	corpus := newTestCorpus(t, &fixedVectors{results: denseResults("A", 0.5)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine().Search(ctx, corpus, "AuthService")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDenseRetriever_NoEmbedder(t *testing.T) {
	var d *DenseRetriever

	_, err := d.NearestNeighbors(context.Background(), &fixedVectors{}, EmbeddingSpace{}, "q", 5)

	assert.ErrorIs(t, err, fixerrors.ErrRetrievalUnavailable)
}

// builtCorpus is a testCorpus that records the model its vectors came from.
type builtCorpus struct {
	*testCorpus
	model string
	dims  int
}

func (c *builtCorpus) EmbeddingSpace() (string, int) { return c.model, c.dims }

func TestEngine_EmbedderModelMismatchDegradesToLexical(t *testing.T) {
	tests := []struct {
		name  string
		model string
		dims  int
	}{
		{"different model", "nomic-embed-text", 64},
		{"different width", "static-64", 768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: vectors built with another embedding space than the query embedder's
			corpus := &builtCorpus{
				testCorpus: newTestCorpus(t, &fixedVectors{results: denseResults("B", 0.61, "A", 0.56)}),
				model:      tt.model,
				dims:       tt.dims,
			}
			e := newTestEngine()

			// When: retrieving
			ret, err := e.Retrieve(context.Background(), corpus, "AuthService")

			// Then: dense retrieval is reported unavailable instead of scoring across spaces
			require.NoError(t, err)
			assert.ErrorIs(t, ret.DenseErr, fixerrors.ErrRetrievalUnavailable)
			assert.Empty(t, ret.Dense)
			assert.Equal(t, []string{DegradedRetrieval}, ret.Degraded)
		})
	}
}

func TestEngine_MatchingEmbedderModelUsesDense(t *testing.T) {
	// Given: vectors built with the same static model the engine queries with
	corpus := &builtCorpus{
		testCorpus: newTestCorpus(t, &fixedVectors{results: denseResults("B", 0.9)}),
		model:      "static-64",
		dims:       64,
	}

	// When: retrieving
	ret, err := newTestEngine().Retrieve(context.Background(), corpus, "AuthService")

	// Then: the dense ranking is used
	require.NoError(t, err)
	assert.NoError(t, ret.DenseErr)
	assert.Len(t, ret.Dense, 1)
	assert.Empty(t, ret.Degraded)
}
