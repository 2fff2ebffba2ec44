package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/async"
	"github.com/Aman-CERP/fixrecall/internal/feedback"
	"github.com/Aman-CERP/fixrecall/internal/history"
	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/pipeline"
	"github.com/Aman-CERP/fixrecall/internal/telemetry"
)

// StatsReport is the combined view printed by `fixrecall stats`.
type StatsReport struct {
	History *history.Stats                  `json:"history"`
	Queries *telemetry.QueryMetricsSnapshot `json:"queries,omitempty"`
}

// StatusReport describes the local installation.
type StatusReport struct {
	DataDir     string                       `json:"data_dir"`
	Generation  uint64                       `json:"generation"`
	BuiltAt     time.Time                    `json:"built_at"`
	Chunks      int                          `json:"chunks"`
	DenseReady  bool                         `json:"dense_ready"`
	Consistent  bool                         `json:"consistent"`
	Issues      []string                     `json:"issues,omitempty"`
	Sources     []string                     `json:"sources"`
	GeneratorOK bool                         `json:"generator_available"`
	Generator   string                       `json:"generator_model"`
	Evaluator   string                       `json:"evaluator_model,omitempty"`
	Reindex     *async.IndexProgressSnapshot `json:"reindex,omitempty"`
}

// Analysis prints one answered query with its sources.
func (w *Writer) Analysis(res *pipeline.Result) error {
	if w.json {
		return w.JSON(res)
	}

	w.Header("Suggested solution")
	w.Panel(res.Answer)

	if res.Faithfulness != nil && res.Relevancy != nil {
		w.Field("faithfulness", fmt.Sprintf("%.2f", *res.Faithfulness))
		w.Field("relevancy", fmt.Sprintf("%.2f", *res.Relevancy))
	}
	if res.Persisted {
		w.Field("analysis id", res.AnalysisID)
	}
	w.Field("generation", res.GenerationID)
	w.Field("took", res.Duration.Round(time.Millisecond))

	if len(res.Sources) > 0 {
		w.Newline()
		w.Header(fmt.Sprintf("Related incidents (%d)", len(res.Sources)))
		for i, s := range res.Sources {
			score := fmt.Sprintf("%.3f", s.Score)
			if s.Rerank != nil {
				score += fmt.Sprintf(" rerank %.3f", *s.Rerank)
			}
			if s.Reputation != 0 {
				score += fmt.Sprintf(" rep %+d", s.Reputation)
			}
			_, _ = fmt.Fprintf(w.out, "  %d. %s %s\n", i+1, s.Source, w.styles.Score.Render("["+score+"]"))
			_, _ = fmt.Fprintf(w.out, "     %s\n", w.styles.Dim.Render(truncate(s.Content, 100)))
			_, _ = fmt.Fprintf(w.out, "     %s\n", w.styles.Label.Render("chunk "+s.ChunkID))
		}
	}

	if len(res.Degraded) > 0 {
		w.Newline()
		w.Warningf("Answered in degraded mode: %s", strings.Join(res.Degraded, ", "))
	}
	if !res.Persisted {
		w.Warning("The analysis was not saved to history")
	}
	return nil
}

// History prints past analyses, newest first.
func (w *Writer) History(records []*history.Record) error {
	if w.json {
		if records == nil {
			records = []*history.Record{}
		}
		return w.JSON(records)
	}
	if len(records) == 0 {
		w.Status("", "No analyses recorded yet")
		return nil
	}
	for _, r := range records {
		scores := w.styles.Dim.Render("not evaluated")
		if r.Evaluated() {
			scores = w.styles.Score.Render(fmt.Sprintf("faith %.2f rel %.2f", *r.Faithfulness, *r.Relevancy))
		}
		_, _ = fmt.Fprintf(w.out, "#%-5d %s  %s  %s\n",
			r.ID, r.Timestamp.Local().Format("2006-01-02 15:04"), scores, truncate(r.Query, 60))
	}
	return nil
}

// Record prints one analysis in full.
func (w *Writer) Record(r *history.Record) error {
	if w.json {
		return w.JSON(r)
	}
	w.Header(fmt.Sprintf("Analysis #%d", r.ID))
	w.Field("when", r.Timestamp.Local().Format(time.RFC3339))
	w.Field("query", r.Query)
	w.Field("generation", r.GenerationID)
	if r.Evaluated() {
		w.Field("faithfulness", fmt.Sprintf("%.2f", *r.Faithfulness))
		w.Field("relevancy", fmt.Sprintf("%.2f", *r.Relevancy))
	}
	if len(r.Degraded) > 0 {
		w.Field("degraded", strings.Join(r.Degraded, ", "))
	}
	w.Panel(r.Answer)
	for i, id := range r.ChunkIDs {
		_, _ = fmt.Fprintf(w.out, "  [%d] %s\n", i+1, w.styles.Label.Render(id))
		if i < len(r.Context) {
			w.Code(r.Context[i])
		}
	}
	return nil
}

// Feedback prints the result of applying votes.
func (w *Writer) Feedback(outcomes []*feedback.Outcome) error {
	if w.json {
		return w.JSON(outcomes)
	}
	for _, o := range outcomes {
		switch {
		case o.Duplicate:
			w.Statusf("↺", "%s already rated (event %s), reputation %d", o.ChunkID, o.EventID, o.Reputation)
		case o.Applied:
			w.Successf("%s reputation is now %d", o.ChunkID, o.Reputation)
		}
	}
	return nil
}

// Stats prints aggregate quality and usage numbers.
func (w *Writer) Stats(report *StatsReport) error {
	if w.json {
		return w.JSON(report)
	}
	h := report.History
	w.Header("History")
	w.Field("analyses", h.TotalAnalyses)
	w.Field("evaluated", h.Evaluated)
	if h.Evaluated > 0 {
		w.Field("avg faithfulness", fmt.Sprintf("%.3f", h.AvgFaithfulness))
		w.Field("avg relevancy", fmt.Sprintf("%.3f", h.AvgRelevancy))
	}

	q := report.Queries
	if q == nil || q.TotalQueries == 0 {
		return nil
	}
	w.Newline()
	w.Header(fmt.Sprintf("Queries since %s", q.Since.Local().Format("2006-01-02 15:04")))
	w.Field("total", q.TotalQueries)
	w.Field("repeated", q.RepeatCount)
	w.Field("no context", fmt.Sprintf("%d (%.1f%%)", q.ZeroResultCount, q.ZeroResultPercentage()))
	for _, outcome := range []telemetry.Outcome{telemetry.OutcomeReturned, telemetry.OutcomeUnsaved, telemetry.OutcomeFailed} {
		w.Field(string(outcome), q.OutcomeCounts[outcome])
	}
	for _, component := range sortedKeys(q.DegradedCounts) {
		w.Field("degraded "+component, q.DegradedCounts[component])
	}
	if len(q.TopTerms) > 0 {
		terms := make([]string, 0, len(q.TopTerms))
		for _, t := range q.TopTerms {
			terms = append(terms, fmt.Sprintf("%s (%d)", t.Term, t.Count))
		}
		w.Field("top terms", strings.Join(terms, ", "))
	}
	return nil
}

// Reindex prints the summary of a finished rebuild.
func (w *Writer) Reindex(res *index.RunResult) error {
	if w.json {
		sources := make([]map[string]any, 0, len(res.Sources))
		for _, src := range res.Sources {
			entry := map[string]any{"name": src.Name, "documents": src.Documents}
			if src.Err != nil {
				entry["error"] = src.Err.Error()
			}
			sources = append(sources, entry)
		}
		return w.JSON(map[string]any{
			"generation":      res.Generation,
			"chunks":          res.Chunks,
			"embedded":        res.Embedded,
			"reused":          res.Reused,
			"dense_available": res.DenseAvailable,
			"duration_ms":     res.Duration.Milliseconds(),
			"sources":         sources,
		})
	}
	w.Successf("Generation %d published: %d chunks (%d embedded, %d reused) in %s",
		res.Generation, res.Chunks, res.Embedded, res.Reused, res.Duration.Round(time.Millisecond))
	if !res.DenseAvailable {
		w.Warning("Dense index unavailable; searches will be lexical only")
	}
	for _, s := range res.Sources {
		if s.Err != nil {
			w.Warningf("%s skipped: %v", s.Name, s.Err)
			continue
		}
		w.Status("", fmt.Sprintf("%s: %d documents", s.Name, s.Documents))
	}
	return nil
}

// Overview prints the installation status.
func (w *Writer) Overview(report *StatusReport) error {
	if w.json {
		return w.JSON(report)
	}
	w.Header("fixrecall status")
	w.Field("data dir", report.DataDir)
	if report.Generation == 0 {
		w.Field("index", "not built (run 'fixrecall reindex')")
	} else {
		w.Field("index", fmt.Sprintf("generation %d, %d chunks, built %s",
			report.Generation, report.Chunks, report.BuiltAt.Local().Format(time.RFC3339)))
		w.Field("dense", report.DenseReady)
		if !report.Consistent {
			for _, issue := range report.Issues {
				w.Warning(issue)
			}
		}
	}
	gen := report.Generator
	if !report.GeneratorOK {
		gen += " (unreachable)"
	}
	w.Field("generator", gen)
	if report.Evaluator != "" {
		w.Field("evaluator", report.Evaluator)
	}
	for _, s := range report.Sources {
		w.Field("source", s)
	}
	if report.Reindex != nil {
		w.Field("reindex", report.Reindex.Status)
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
