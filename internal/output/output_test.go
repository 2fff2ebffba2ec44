package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/corpus"
	"github.com/Aman-CERP/fixrecall/internal/feedback"
	"github.com/Aman-CERP/fixrecall/internal/history"
	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/pipeline"
	"github.com/Aman-CERP/fixrecall/internal/telemetry"
)

func ptr(f float64) *float64 { return &f }

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Checking generator...") }, []string{"🔍", "Checking generator..."}},
		{"success", func(w *Writer) { w.Success("Index complete!") }, []string{"✅", "Index complete!"}},
		{"warning", func(w *Writer) { w.Warning("Reranker offline") }, []string{"⚠️", "Reranker offline"}},
		{"error", func(w *Writer) { w.Error("Failed to connect") }, []string{"❌", "Failed to connect"}},
		{"statusf", func(w *Writer) { w.Statusf("📂", "Found %d files in %s", 42, "/var/log") }, []string{"📂", "Found 42 files in /var/log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestNew_BufferIsNotColored(t *testing.T) {
	// Given: a writer over a non-terminal
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a styled header
	w.Header("Suggested solution")

	// Then: no escape sequences are written
	assert.False(t, w.useColor)
	assert.Equal(t, "Suggested solution\n", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(50, 100, "Embedding chunks")
	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "Embedding chunks")

	buf.Reset()
	assert.NotPanics(t, func() { w.Progress(0, 0, "nothing") })
	assert.Empty(t, buf.String())
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"over 100 percent", 150, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)
			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n  b\tc", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func sampleResult() *pipeline.Result {
	rerank := 0.91
	return &pipeline.Result{
		AnalysisID:   7,
		Query:        "NullPointerException in PaymentService",
		Answer:       "Check the payment client initialization.",
		Faithfulness: ptr(0.8),
		Relevancy:    ptr(0.9),
		Sources: []pipeline.Source{
			{ChunkID: "c1", Source: "local:/logs", Content: "NPE at PaymentService.charge", Score: 0.97, Rerank: &rerank, Reputation: 2},
		},
		Degraded:     []string{"reranker"},
		Persisted:    true,
		GenerationID: 3,
		Duration:     1500 * time.Millisecond,
	}
}

func TestWriter_Analysis_Text(t *testing.T) {
	// Given: a degraded but persisted result
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: rendering as text
	require.NoError(t, w.Analysis(sampleResult()))

	// Then: the answer, scores, sources and the degradation are all shown
	out := buf.String()
	assert.Contains(t, out, "Check the payment client initialization.")
	assert.Contains(t, out, "0.80")
	assert.Contains(t, out, "rerank 0.910")
	assert.Contains(t, out, "rep +2")
	assert.Contains(t, out, "chunk c1")
	assert.Contains(t, out, "degraded mode: reranker")
	assert.NotContains(t, out, "not saved")
}

func TestWriter_Analysis_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithOptions(buf, Options{JSON: true})

	require.NoError(t, w.Analysis(sampleResult()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(7), decoded["analysis_id"])
	assert.Equal(t, []any{"reranker"}, decoded["degraded"])
	assert.Len(t, decoded["sources"], 1)
}

func TestWriter_Analysis_UnsavedIsFlagged(t *testing.T) {
	buf := &bytes.Buffer{}
	res := sampleResult()
	res.Persisted = false
	res.AnalysisID = 0

	require.NoError(t, New(buf).Analysis(res))

	assert.Contains(t, buf.String(), "not saved")
	assert.NotContains(t, buf.String(), "analysis id")
}

func TestWriter_History(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	require.NoError(t, w.History(nil))
	assert.Contains(t, buf.String(), "No analyses recorded yet")

	buf.Reset()
	records := []*history.Record{
		{ID: 2, Timestamp: time.Now(), Query: "timeout calling inventory", Faithfulness: ptr(0.5), Relevancy: ptr(0.75)},
		{ID: 1, Timestamp: time.Now(), Query: "disk full"},
	}
	require.NoError(t, w.History(records))
	out := buf.String()
	assert.Contains(t, out, "#2")
	assert.Contains(t, out, "faith 0.50 rel 0.75")

	buf.Reset()
	require.NoError(t, NewWithOptions(buf, Options{JSON: true}).History(nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriter_Feedback(t *testing.T) {
	buf := &bytes.Buffer{}
	outcomes := []*feedback.Outcome{
		{EventID: "e1", ChunkID: "c1", Applied: true, Reputation: 1},
		{EventID: "e1", ChunkID: "c2", Duplicate: true, Reputation: -1},
	}

	require.NoError(t, New(buf).Feedback(outcomes))

	assert.Contains(t, buf.String(), "c1 reputation is now 1")
	assert.Contains(t, buf.String(), "c2 already rated")
}

func TestWriter_Stats(t *testing.T) {
	buf := &bytes.Buffer{}
	report := &StatsReport{
		History: &history.Stats{TotalAnalyses: 4, Evaluated: 2, AvgFaithfulness: 0.7, AvgRelevancy: 0.6},
		Queries: &telemetry.QueryMetricsSnapshot{
			TotalQueries:    4,
			ZeroResultCount: 1,
			OutcomeCounts:   map[telemetry.Outcome]int64{telemetry.OutcomeReturned: 3, telemetry.OutcomeFailed: 1},
			DegradedCounts:  map[string]int64{"dense": 2},
			TopTerms:        []telemetry.TermCount{{Term: "timeout", Count: 3}},
		},
	}

	require.NoError(t, New(buf).Stats(report))

	out := buf.String()
	assert.Contains(t, out, "0.700")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "degraded dense")
	assert.Contains(t, out, "timeout (3)")
}

func TestWriter_Reindex_JSONCarriesSourceErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	res := &index.RunResult{
		Generation: 2,
		Chunks:     10,
		Sources: []corpus.SourceReport{
			{Name: "local:/logs", Documents: 3},
			{Name: "issues:acme/api", Err: errors.New("rate limited")},
		},
	}

	require.NoError(t, NewWithOptions(buf, Options{JSON: true}).Reindex(res))

	var decoded struct {
		Generation int `json:"generation"`
		Sources    []struct {
			Name  string `json:"name"`
			Error string `json:"error"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 2, decoded.Generation)
	require.Len(t, decoded.Sources, 2)
	assert.Empty(t, decoded.Sources[0].Error)
	assert.Equal(t, "rate limited", decoded.Sources[1].Error)
}

func TestWriter_Overview(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Overview(&StatusReport{DataDir: "/tmp/fr", Generator: "llama3"}))

	assert.Contains(t, buf.String(), "not built")
	assert.Contains(t, buf.String(), "llama3 (unreachable)")
}

func TestWriter_RecordShowsContextUnderEachChunk(t *testing.T) {
	// Given: a stored analysis with two context fragments
	rec := &history.Record{
		ID:        7,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Query:     "connection reset by peer",
		Answer:    "Raise the keepalive interval.",
		ChunkIDs:  []string{"aaaa", "bbbb"},
		Context:   []string{"ERROR connection reset", "WARN keepalive 30s"},
	}
	buf := &bytes.Buffer{}

	// When: rendering it for a terminal-less writer
	require.NoError(t, New(buf).Record(rec))

	// Then: each chunk id is followed by its indented fragment
	out := buf.String()
	assert.Contains(t, out, "Analysis #7")
	first := strings.Index(out, "aaaa")
	second := strings.Index(out, "bbbb")
	require.True(t, first >= 0 && second > first)
	assert.Contains(t, out[first:second], "  ERROR connection reset")
	assert.Contains(t, out[second:], "  WARN keepalive 30s")
}
