package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lexicalBackends = []string{LexicalBackendBM25, LexicalBackendBleve, LexicalBackendSQLite}

func newLexical(t *testing.T, backend string) LexicalIndex {
	t.Helper()
	idx, err := NewLexicalIndex(backend, DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func incidentDocs() []*Document {
	return []*Document{
		{ID: "npe-auth", Content: "NullPointerException in AuthService"},
		{ID: "timeout-pay", Content: "timeout in PaymentService"},
		{ID: "disk-full", Content: "No space left on device while writing cache"},
	}
}

func TestMemoryBM25_ExactScore(t *testing.T) {
	// Given: two documents of 5 and 3 terms (avgdl = 4)
	idx := NewMemoryBM25Index(DefaultBM25Config())
	require.NoError(t, idx.Index(context.Background(), incidentDocs()[:2]))

	// When: searching for the exception class
	results, err := idx.Search(context.Background(), "NullPointerException", 10)

	// Then: only the matching document scores, with the Okapi value
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "npe-auth", results[0].ChunkID)

	idf := math.Log(1 + (2-1+0.5)/(1+0.5))
	norm := 1 - 0.75 + 0.75*5.0/4.0
	perTerm := idf * 2.2 / (1 + 1.2*norm)
	assert.InDelta(t, 3*perTerm, results[0].Score, 1e-9)
	assert.ElementsMatch(t, []string{"null", "pointer", "exception"}, results[0].MatchedTerms)
}

func TestMemoryBM25_ReindexReplacesDocument(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{{ID: "a", Content: "database deadlock"}}))
	require.NoError(t, idx.Index(ctx, []*Document{{ID: "a", Content: "connection refused"}}))

	old, err := idx.Search(ctx, "deadlock", 5)
	require.NoError(t, err)
	fresh, err := idx.Search(ctx, "refused", 5)
	require.NoError(t, err)

	assert.Empty(t, old)
	require.Len(t, fresh, 1)
	assert.Equal(t, 1, idx.Count())
}

func TestMemoryBM25_TiesBreakByID(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "b", Content: "oom killer"},
		{ID: "a", Content: "oom killer"},
		{ID: "c", Content: "unrelated text"},
	}))

	results, err := idx.Search(ctx, "oom", 5)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
	assert.Equal(t, results[0].Score, results[1].Score)
}

func TestLexicalBackends_RankMatchingDocumentFirst(t *testing.T) {
	for _, backend := range lexicalBackends {
		t.Run(backend, func(t *testing.T) {
			// Given: an index with three incidents
			idx := newLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), incidentDocs()))
			assert.Equal(t, 3, idx.Count())

			// When: searching with a camelCase identifier
			results, err := idx.Search(context.Background(), "AuthService NullPointerException", 10)

			// Then: the auth incident ranks first with a non-negative score
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "npe-auth", results[0].ChunkID)
			for _, r := range results {
				assert.GreaterOrEqual(t, r.Score, 0.0)
			}
		})
	}
}

func TestLexicalBackends_MatchNonASCIIText(t *testing.T) {
	for _, backend := range lexicalBackends {
		t.Run(backend, func(t *testing.T) {
			// Given: incidents written in Russian and German next to English ones
			idx := newLexical(t, backend)
			docs := append(incidentDocs(),
				&Document{ID: "db-ru", Content: "Ошибка подключения к базе данных"},
				&Document{ID: "net-de", Content: "Zeitüberschreitung beim Verbindungsaufbau"},
			)
			require.NoError(t, idx.Index(context.Background(), docs))

			// When
			ru, err := idx.Search(context.Background(), "ошибка подключения", 10)
			require.NoError(t, err)
			de, err := idx.Search(context.Background(), "Zeitüberschreitung", 10)
			require.NoError(t, err)

			// Then: each query finds its own incident first
			require.NotEmpty(t, ru)
			assert.Equal(t, "db-ru", ru[0].ChunkID)
			require.NotEmpty(t, de)
			assert.Equal(t, "net-de", de[0].ChunkID)
		})
	}
}

func TestLexicalBackends_EmptyCases(t *testing.T) {
	for _, backend := range lexicalBackends {
		t.Run(backend, func(t *testing.T) {
			idx := newLexical(t, backend)
			ctx := context.Background()

			// Empty corpus
			results, err := idx.Search(ctx, "anything", 10)
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)

			// No matching terms
			require.NoError(t, idx.Index(ctx, incidentDocs()))
			results, err = idx.Search(ctx, "kubernetes", 10)
			require.NoError(t, err)
			assert.Empty(t, results)

			// Only stop words
			results, err = idx.Search(ctx, "the of and", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestLexicalBackends_Deterministic(t *testing.T) {
	for _, backend := range lexicalBackends {
		t.Run(backend, func(t *testing.T) {
			idx := newLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), incidentDocs()))

			first, err := idx.Search(context.Background(), "service timeout", 10)
			require.NoError(t, err)
			second, err := idx.Search(context.Background(), "service timeout", 10)
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestNewLexicalIndex_UnknownBackend(t *testing.T) {
	_, err := NewLexicalIndex("lucene", DefaultBM25Config())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown lexical backend")
}
