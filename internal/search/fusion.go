package search

import (
	"math"
	"sort"

	"github.com/Aman-CERP/fixrecall/internal/store"
)

// Fuser combines the lexical and dense rankings.
//
// Each list is min-max normalized on its own; a list with one element or no
// variance normalizes to 1.0. The fused score is
//
//	fused = wLex*normLex + wDense*normDense + bias(reputation)
//	bias  = clamp(reputation*Step, -Cap, +Cap)
//
// A chunk missing from one list scores 0 there and is never dropped.
// When one list is empty its weight becomes 0 and the other list's weight is
// rescaled so the relevance part still spans [0,1].
type Fuser struct {
	Step float64 // bias per reputation point
	Cap  float64 // absolute bias bound
}

// NewFuser creates a fuser with the default ±0.05 bias at 0.01 per point.
func NewFuser() *Fuser {
	return &Fuser{Step: DefaultReputationStep, Cap: DefaultReputationCap}
}

// Bias maps a reputation to its bounded score adjustment.
func (f *Fuser) Bias(reputation int) float64 {
	b := float64(reputation) * f.Step
	return math.Max(-f.Cap, math.Min(f.Cap, b))
}

// EffectiveWeights returns the weights actually applied given which lists
// contributed candidates.
func EffectiveWeights(w Weights, haveLexical, haveDense bool) Weights {
	switch {
	case haveLexical && haveDense:
		return w
	case haveLexical:
		if w.Lexical == 0 {
			return Weights{}
		}
		return Weights{Lexical: 1}
	case haveDense:
		if w.Dense == 0 {
			return Weights{}
		}
		return Weights{Dense: 1}
	default:
		return Weights{}
	}
}

// Fuse merges both lists into one ordering. rep may be nil.
// Sorting is by fused score desc, then raw dense score desc (absent last),
// then chunk id asc.
func (f *Fuser) Fuse(lexical []*store.LexicalResult, dense []*store.VectorResult, w Weights, rep ReputationLookup) []*Candidate {
	if len(lexical) == 0 && len(dense) == 0 {
		return []*Candidate{}
	}
	eff := EffectiveWeights(w, len(lexical) > 0, len(dense) > 0)

	byID := make(map[string]*Candidate, len(lexical)+len(dense))
	get := func(id string) *Candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &Candidate{ChunkID: id}
		byID[id] = c
		return c
	}

	lexRaw := make([]float64, len(lexical))
	for i, r := range lexical {
		lexRaw[i] = r.Score
	}
	lexNorm := minMax(lexRaw)
	for i, r := range lexical {
		c := get(r.ChunkID)
		c.LexicalScore = floatPtr(r.Score)
		c.NormLexical = lexNorm[i]
		c.MatchedTerms = append([]string(nil), r.MatchedTerms...)
	}

	denseRaw := make([]float64, len(dense))
	for i, r := range dense {
		denseRaw[i] = float64(r.Score)
	}
	denseNorm := minMax(denseRaw)
	for i, r := range dense {
		c := get(r.ID)
		c.DenseScore = floatPtr(denseRaw[i])
		c.NormDense = denseNorm[i]
	}

	out := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		if rep != nil {
			c.Reputation = rep(c.ChunkID)
		}
		c.ReputationBias = f.Bias(c.Reputation)
		c.FusedScore = eff.Lexical*c.NormLexical + eff.Dense*c.NormDense + c.ReputationBias
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return fusedLess(out[i], out[j]) })
	return out
}

// fusedLess reports whether a ranks before b.
func fusedLess(a, b *Candidate) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	ad, bd := rawDense(a), rawDense(b)
	if ad != bd {
		return ad > bd
	}
	return a.ChunkID < b.ChunkID
}

func rawDense(c *Candidate) float64 {
	if c.DenseScore == nil {
		return math.Inf(-1)
	}
	return *c.DenseScore
}

// minMax scales scores to [0,1]. One element or zero variance yields all 1.0.
func minMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	span := hi - lo
	for i, s := range scores {
		if span == 0 {
			out[i] = 1.0
			continue
		}
		out[i] = (s - lo) / span
	}
	return out
}
