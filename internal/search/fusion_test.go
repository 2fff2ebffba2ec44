package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/store"
)

func lexResults(pairs ...any) []*store.LexicalResult {
	out := make([]*store.LexicalResult, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, &store.LexicalResult{ChunkID: pairs[i].(string), Score: pairs[i+1].(float64)})
	}
	return out
}

func denseResults(pairs ...any) []*store.VectorResult {
	out := make([]*store.VectorResult, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, &store.VectorResult{ID: pairs[i].(string), Score: float32(pairs[i+1].(float64))})
	}
	return out
}

func ids(cands []*Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ChunkID
	}
	return out
}

func TestFuse_NullPointerScenario(t *testing.T) {
	// Given: the two-document incident corpus indexed lexically
	idx := store.NewMemoryBM25Index(store.DefaultBM25Config())
	require.NoError(t, idx.Index(context.Background(), []*store.Document{
		{ID: "A", Content: "NullPointerException in AuthService"},
		{ID: "B", Content: "Timeout connecting to database"},
	}))
	lexical, err := idx.Search(context.Background(), "NullPointerException AuthService line 42", 10)
	require.NoError(t, err)

	// Then: the lexical ranker puts A first and never matches B
	require.Len(t, lexical, 1)
	assert.Equal(t, "A", lexical[0].ChunkID)

	// When: dense scores are reversed (B:0.9, A:0.3) at weights 0.4/0.6
	dense := denseResults("B", 0.9, "A", 0.3)
	fused := NewFuser().Fuse(lexical, dense, DefaultWeights(), nil)

	// Then: normalized lexical is A=1,B=0 and dense is B=1,A=0,
	// so B=0.6 beats A=0.4
	require.Len(t, fused, 2)
	assert.Equal(t, []string{"B", "A"}, ids(fused))
	assert.InDelta(t, 0.6, fused[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.4, fused[1].FusedScore, 1e-9)
	assert.Nil(t, fused[0].LexicalScore)
	require.NotNil(t, fused[1].LexicalScore)
	assert.Greater(t, *fused[1].LexicalScore, 0.0)

	// And: maximum positive reputation on A (+0.05) is not enough
	fused = NewFuser().Fuse(lexical, dense, DefaultWeights(), MapReputation(map[string]int{"A": 9}))
	assert.Equal(t, []string{"B", "A"}, ids(fused))
	assert.InDelta(t, 0.45, fused[1].FusedScore, 1e-9)

	// And: flipping the weights to 0.8/0.2 favors A (0.8 vs 0.2)
	fused = NewFuser().Fuse(lexical, dense, Weights{Lexical: 0.8, Dense: 0.2}, nil)
	assert.Equal(t, []string{"A", "B"}, ids(fused))
	assert.InDelta(t, 0.8, fused[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.2, fused[1].FusedScore, 1e-9)
}

func TestFuse_OutputIsUnionOfBothLists(t *testing.T) {
	// Given: overlapping lists
	lex := lexResults("A", 3.0, "B", 2.0, "C", 1.0)
	dense := denseResults("C", 0.9, "D", 0.5)

	// When: fusing
	fused := NewFuser().Fuse(lex, dense, DefaultWeights(), nil)

	// Then: every distinct id appears exactly once
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, ids(fused))
	for _, c := range fused {
		assert.True(t, c.LexicalScore != nil || c.DenseScore != nil, c.ChunkID)
	}
}

func TestFuse_AbsentScoresCountAsZero(t *testing.T) {
	fused := NewFuser().Fuse(lexResults("A", 2.0, "B", 1.0), denseResults("B", 0.8, "C", 0.4), DefaultWeights(), nil)

	byID := map[string]*Candidate{}
	for _, c := range fused {
		byID[c.ChunkID] = c
	}
	assert.Equal(t, 0.0, byID["A"].NormDense)
	assert.Nil(t, byID["A"].DenseScore)
	assert.Equal(t, 0.0, byID["C"].NormLexical)
	assert.Nil(t, byID["C"].LexicalScore)
	assert.InDelta(t, 0.4, byID["A"].FusedScore, 1e-9)
	assert.InDelta(t, 0.6, byID["B"].FusedScore, 1e-9)
}

func TestFuse_SingleElementAndZeroVarianceNormalizeToOne(t *testing.T) {
	// Given: a single lexical hit and a flat dense list
	fused := NewFuser().Fuse(lexResults("A", 7.3), denseResults("B", 0.5, "C", 0.5), DefaultWeights(), nil)

	for _, c := range fused {
		if c.LexicalScore != nil {
			assert.Equal(t, 1.0, c.NormLexical)
		}
		if c.DenseScore != nil {
			assert.Equal(t, 1.0, c.NormDense)
		}
	}
	// B and C tie on fused and raw dense, so id decides
	assert.Equal(t, []string{"B", "C", "A"}, ids(fused))
}

func TestFuse_TieBreaksOnRawDenseThenID(t *testing.T) {
	// Given: equal weights so A (lexical best) and B (dense best) tie at 0.5
	lex := lexResults("A", 2.0, "B", 1.0)
	dense := denseResults("B", 0.8, "A", 0.4)

	// When: fusing
	fused := NewFuser().Fuse(lex, dense, Weights{Lexical: 0.5, Dense: 0.5}, nil)

	// Then: B wins on raw dense score
	assert.Equal(t, []string{"B", "A"}, ids(fused))
	assert.Equal(t, fused[0].FusedScore, fused[1].FusedScore)
}

func TestFuse_DenseEmptyUsesLexicalOrderPlusReputation(t *testing.T) {
	// Given: lexical only, normalized A=1.0, B=0.97, C=0
	lex := lexResults("A", 2.0, "B", 1.97, "C", 1.0)

	// When: no reputation
	fused := NewFuser().Fuse(lex, nil, DefaultWeights(), nil)

	// Then: lexical order, at full weight
	assert.Equal(t, []string{"A", "B", "C"}, ids(fused))
	assert.InDelta(t, 1.0, fused[0].FusedScore, 1e-9)

	// When: B has +5 reputation (bias +0.05)
	fused = NewFuser().Fuse(lex, nil, DefaultWeights(), MapReputation(map[string]int{"B": 5}))

	// Then: B overtakes A, and C stays last
	assert.Equal(t, []string{"B", "A", "C"}, ids(fused))
	assert.InDelta(t, 1.02, fused[0].FusedScore, 1e-9)
}

func TestFuse_LexicalEmptyUsesDenseOnly(t *testing.T) {
	fused := NewFuser().Fuse(nil, denseResults("X", 0.7, "Y", 0.2), DefaultWeights(), nil)

	assert.Equal(t, []string{"X", "Y"}, ids(fused))
	assert.InDelta(t, 1.0, fused[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.0, fused[1].FusedScore, 1e-9)
}

func TestFuse_BothEmptyIsEmptyNotNil(t *testing.T) {
	fused := NewFuser().Fuse(nil, []*store.VectorResult{}, DefaultWeights(), nil)
	require.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuse_IsDeterministic(t *testing.T) {
	lex := lexResults("a", 1.0, "b", 1.0, "c", 1.0, "d", 0.5)
	dense := denseResults("d", 0.3, "e", 0.3, "a", 0.3)
	rep := MapReputation(map[string]int{"c": -2, "e": 1})

	first := ids(NewFuser().Fuse(lex, dense, DefaultWeights(), rep))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, ids(NewFuser().Fuse(lex, dense, DefaultWeights(), rep)))
	}
}

func TestFuser_BiasIsClamped(t *testing.T) {
	f := NewFuser()
	assert.InDelta(t, 0.03, f.Bias(3), 1e-12)
	assert.InDelta(t, -0.02, f.Bias(-2), 1e-12)
	assert.Equal(t, 0.05, f.Bias(100))
	assert.Equal(t, -0.05, f.Bias(-100))
	assert.Equal(t, 0.0, f.Bias(0))
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.NoError(t, Weights{Lexical: 1}.Validate())
	assert.Error(t, Weights{Lexical: 0.5, Dense: 0.6}.Validate())
	assert.Error(t, Weights{Lexical: -0.1, Dense: 1.1}.Validate())
}

func TestEffectiveWeights(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, w, EffectiveWeights(w, true, true))
	assert.Equal(t, Weights{Lexical: 1}, EffectiveWeights(w, true, false))
	assert.Equal(t, Weights{Dense: 1}, EffectiveWeights(w, false, true))
	assert.Equal(t, Weights{}, EffectiveWeights(Weights{Dense: 1}, true, false))
}
