package feedback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/corpus"
	"github.com/Aman-CERP/fixrecall/internal/embed"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/history"
	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/store"
	"github.com/Aman-CERP/fixrecall/internal/telemetry"
)

type staticSource struct {
	docs []corpus.Document
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Load(context.Context) ([]corpus.Document, error) {
	return s.docs, nil
}

// fixture is an index with three incidents A, B and C.
type fixture struct {
	manager *index.Manager
	ids     map[string]string // label -> chunk id
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	contents := map[string]string{
		"A": "NullPointerException in AuthService.login when token is missing",
		"B": "Fixed NPE by adding null check before token refresh",
		"C": "Timeout connecting to payments database after failover",
	}
	src := &staticSource{}
	for _, label := range []string{"A", "B", "C"} {
		src.docs = append(src.docs, corpus.Document{
			Source:  label + ".log",
			Kind:    store.KindLog,
			Content: contents[label],
		})
	}

	runner, err := index.NewRunner(index.RunnerDependencies{
		Loader:   corpus.NewLoader(corpus.NewSplitter(1000, 200), src),
		Embedder: embed.NewStaticEmbedder(16),
		Assembly: index.Assembly{BM25: store.DefaultBM25Config()},
	})
	require.NoError(t, err)
	m, err := index.NewManager(index.ManagerConfig{
		Runner:   runner,
		Assembly: index.Assembly{BM25: store.DefaultBM25Config()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	_, err = m.Rebuild(context.Background(), nil)
	require.NoError(t, err)

	gen := m.Acquire()
	defer gen.Release()
	ids := make(map[string]string)
	for _, id := range gen.ChunkIDs() {
		content, _ := gen.Content(id)
		for label, want := range contents {
			if content == want {
				ids[label] = id
			}
		}
	}
	require.Len(t, ids, 3)
	return &fixture{manager: m, ids: ids}
}

func newSQLiteReputation(t *testing.T) *store.SQLiteReputationStore {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	rs, err := store.NewSQLiteReputationStore(db)
	require.NoError(t, err)
	return rs
}

func reputation(t *testing.T, rs store.ReputationStore, id string) int {
	t.Helper()
	v, err := rs.Get(context.Background(), id)
	require.NoError(t, err)
	return v
}

func TestApply_ConcurrentUpvotesBothCount(t *testing.T) {
	// Given: chunk A at reputation 0
	f := newFixture(t)
	rs := newSQLiteReputation(t)
	adj := NewAdjuster(rs, f.manager)

	// When: two +1 events arrive concurrently
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := adj.Apply(context.Background(), Event{
				EventID: fmt.Sprintf("up-%d", i),
				ChunkID: f.ids["A"],
				Delta:   +1,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Then: A is exactly +2
	assert.Equal(t, 2, reputation(t, rs, f.ids["A"]))
}

func TestApply_OpposingVotesCancelInEitherOrder(t *testing.T) {
	orders := map[string][]int{
		"up then down": {+1, -1},
		"down then up": {-1, +1},
	}
	for name, deltas := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			rs := store.NewMemoryReputationStore()
			adj := NewAdjuster(rs, f.manager)

			for i, d := range deltas {
				_, err := adj.Apply(context.Background(), Event{
					EventID: fmt.Sprintf("e-%d", i),
					ChunkID: f.ids["B"],
					Delta:   d,
				})
				require.NoError(t, err)
			}

			assert.Equal(t, 0, reputation(t, rs, f.ids["B"]))
		})
	}
}

func TestApply_UnknownChunkIsRejected(t *testing.T) {
	// Given: an index without chunk Z
	f := newFixture(t)
	rs := store.NewMemoryReputationStore()
	adj := NewAdjuster(rs, f.manager)

	// When: rating Z
	out, err := adj.Apply(context.Background(), Event{EventID: "z", ChunkID: "Z", Delta: +1})

	// Then: ChunkNotFound and no state change
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, fixerrors.ErrChunkNotFound))
	assert.Equal(t, fixerrors.ErrCodeChunkNotFound, fixerrors.GetCode(err))

	snap, err := rs.Snapshot(context.Background(), []string{"Z", f.ids["A"]})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Z": 0, f.ids["A"]: 0}, snap)

	// And: the event id was not consumed
	_, err = adj.Apply(context.Background(), Event{EventID: "z", ChunkID: f.ids["A"], Delta: +1})
	require.NoError(t, err)
	assert.Equal(t, 1, reputation(t, rs, f.ids["A"]))
}

func TestApply_Validation(t *testing.T) {
	f := newFixture(t)
	adj := NewAdjuster(store.NewMemoryReputationStore(), f.manager)

	tests := []struct {
		name string
		ev   Event
	}{
		{"zero delta", Event{ChunkID: f.ids["A"], Delta: 0}},
		{"delta of two", Event{ChunkID: f.ids["A"], Delta: 2}},
		{"delta of minus three", Event{ChunkID: f.ids["A"], Delta: -3}},
		{"empty chunk", Event{ChunkID: "  ", Delta: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adj.Apply(context.Background(), tt.ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, fixerrors.ErrValidation))
		})
	}
}

func TestApply_ReplayedEventIsDuplicate(t *testing.T) {
	// Given: an applied event
	f := newFixture(t)
	rs := store.NewMemoryReputationStore()
	adj := NewAdjuster(rs, f.manager)
	ev := Event{EventID: "evt-1", ChunkID: f.ids["C"], Delta: -1}

	first, err := adj.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, -1, first.Reputation)

	// When: the same event is delivered again
	second, err := adj.Apply(context.Background(), ev)

	// Then: it is reported as a duplicate and has no effect
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, second.Duplicate)
	assert.Equal(t, -1, second.Reputation)
	assert.Equal(t, -1, reputation(t, rs, f.ids["C"]))
}

func TestApply_MissingEventIDIsNeverDeduplicated(t *testing.T) {
	f := newFixture(t)
	rs := store.NewMemoryReputationStore()
	adj := NewAdjuster(rs, f.manager)

	for i := 0; i < 3; i++ {
		out, err := adj.Apply(context.Background(), Event{ChunkID: f.ids["A"], Delta: +1})
		require.NoError(t, err)
		assert.NotEmpty(t, out.EventID)
		assert.True(t, out.Applied)
	}
	assert.Equal(t, 3, reputation(t, rs, f.ids["A"]))
}

func TestApply_CountsOutcomes(t *testing.T) {
	f := newFixture(t)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	adj := NewAdjuster(store.NewMemoryReputationStore(), f.manager, WithMetrics(metrics))

	_, _ = adj.Apply(context.Background(), Event{EventID: "1", ChunkID: f.ids["A"], Delta: 1})
	_, _ = adj.Apply(context.Background(), Event{EventID: "1", ChunkID: f.ids["A"], Delta: 1})
	_, _ = adj.Apply(context.Background(), Event{EventID: "2", ChunkID: "missing", Delta: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FeedbackTotal.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FeedbackTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FeedbackTotal.WithLabelValues("rejected")))
}

func newHistory(t *testing.T) *history.Store {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h, err := history.NewStore(db)
	require.NoError(t, err)
	return h
}

func TestApplyToAnalysis_RatesEveryContextChunk(t *testing.T) {
	// Given: a recorded analysis that used A and B
	f := newFixture(t)
	h := newHistory(t)
	analysisID, err := h.RecordAnalysis(context.Background(), &history.Record{
		Query:    "NPE in login",
		Answer:   "add a null check",
		ChunkIDs: []string{f.ids["A"], f.ids["B"]},
	})
	require.NoError(t, err)

	rs := store.NewMemoryReputationStore()
	adj := NewAdjuster(rs, f.manager, WithAnalyses(h))

	// When: the analysis is rated helpful twice with the same event id
	outs, err := adj.ApplyToAnalysis(context.Background(), analysisID, +1, "rate-1")
	require.NoError(t, err)
	require.Len(t, outs, 2)
	replay, err := adj.ApplyToAnalysis(context.Background(), analysisID, +1, "rate-1")
	require.NoError(t, err)

	// Then: each chunk gained exactly one point and C is untouched
	for _, out := range replay {
		assert.True(t, out.Duplicate)
	}
	assert.Equal(t, 1, reputation(t, rs, f.ids["A"]))
	assert.Equal(t, 1, reputation(t, rs, f.ids["B"]))
	assert.Equal(t, 0, reputation(t, rs, f.ids["C"]))
}

func TestApplyToAnalysis_StaleChunkRejectsWholeRequest(t *testing.T) {
	// Given: an analysis whose second chunk is no longer indexed
	f := newFixture(t)
	h := newHistory(t)
	analysisID, err := h.RecordAnalysis(context.Background(), &history.Record{
		Query:    "payments timeout",
		Answer:   "raise the pool size",
		ChunkIDs: []string{f.ids["C"], "gone"},
	})
	require.NoError(t, err)
	rs := store.NewMemoryReputationStore()
	adj := NewAdjuster(rs, f.manager, WithAnalyses(h))

	// When
	_, err = adj.ApplyToAnalysis(context.Background(), analysisID, -1, "")

	// Then: nothing is written, including the valid chunk
	require.Error(t, err)
	assert.True(t, errors.Is(err, fixerrors.ErrChunkNotFound))
	assert.Equal(t, 0, reputation(t, rs, f.ids["C"]))
}

func TestApplyToAnalysis_UnknownAnalysis(t *testing.T) {
	f := newFixture(t)
	adj := NewAdjuster(store.NewMemoryReputationStore(), f.manager, WithAnalyses(newHistory(t)))

	_, err := adj.ApplyToAnalysis(context.Background(), 42, +1, "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, fixerrors.ErrAnalysisNotFound))
}

func TestApplyToAnalysis_RequiresLookup(t *testing.T) {
	f := newFixture(t)
	adj := NewAdjuster(store.NewMemoryReputationStore(), f.manager)

	_, err := adj.ApplyToAnalysis(context.Background(), 1, +1, "")
	assert.Error(t, err)
}
