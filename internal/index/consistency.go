package index

import (
	"log/slog"
	"time"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyLexicalCount means the lexical index and chunk table disagree in size.
	InconsistencyLexicalCount InconsistencyType = iota
	// InconsistencyMissingVector means a chunk with an embedding is absent from the vector store.
	InconsistencyMissingVector
	// InconsistencyVectorCount means the vector store holds a different number of vectors.
	InconsistencyVectorCount
	// InconsistencyNoDense means the generation has chunks but no dense index.
	InconsistencyNoDense
)

// String returns a short name for the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyLexicalCount:
		return "lexical_count"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyVectorCount:
		return "vector_count"
	case InconsistencyNoDense:
		return "no_dense"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Generation      uint64
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Healthy reports whether no issue other than a missing dense index was found.
// A generation without embeddings still serves lexical retrieval.
func (r *CheckResult) Healthy() bool {
	for _, i := range r.Inconsistencies {
		if i.Type != InconsistencyNoDense {
			return false
		}
	}
	return true
}

// Check verifies that a generation's indexes agree with its chunk table.
func Check(g *Generation) *CheckResult {
	start := time.Now()
	var issues []Inconsistency

	if n := g.lexical.Count(); n != len(g.chunks) {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyLexicalCount,
			Details: "lexical index size differs from chunk count",
		})
		slog.Debug("index_counts_mismatch", slog.Int("chunks", len(g.chunks)), slog.Int("lexical", n))
	}

	switch {
	case g.dense == nil && len(g.chunks) > 0:
		issues = append(issues, Inconsistency{
			Type:    InconsistencyNoDense,
			Details: "generation was built without embeddings",
		})
	case g.dense != nil:
		if g.dense.Count() != len(g.vectors) {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyVectorCount,
				Details: "vector store size differs from stored embeddings",
			})
		}
		for _, id := range g.ChunkIDs() {
			if _, ok := g.vectors[id]; ok && !g.dense.Contains(id) {
				issues = append(issues, Inconsistency{
					Type:    InconsistencyMissingVector,
					ChunkID: id,
					Details: "embedding missing from vector store",
				})
			}
		}
	}

	return &CheckResult{
		Generation:      g.ID,
		Checked:         len(g.chunks),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}
}
