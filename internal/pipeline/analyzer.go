package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/history"
	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/llm"
	"github.com/Aman-CERP/fixrecall/internal/search"
	"github.com/Aman-CERP/fixrecall/internal/telemetry"
)

// DegradedEvaluation marks an answer returned without quality metrics.
const DegradedEvaluation = "evaluation"

// Stage names reported to the stage latency histogram.
const (
	stageRetrieve = "retrieve"
	stageFuse     = "fuse"
	stageRerank   = "rerank"
	stageGenerate = "generate"
	stageEvaluate = "evaluate"
	stagePersist  = "persist"
)

// Generations pins the index generation a request runs against.
type Generations interface {
	Acquire() *index.Generation
}

// HistoryWriter records finished analyses.
type HistoryWriter interface {
	RecordAnalysis(ctx context.Context, rec *history.Record) (int64, error)
}

// Source is one context chunk handed to the generator.
type Source struct {
	ChunkID    string   `json:"chunk_id"`
	Source     string   `json:"source"`
	Kind       string   `json:"kind"`
	Content    string   `json:"content"`
	Score      float64  `json:"score"`
	Rerank     *float64 `json:"rerank_score,omitempty"`
	Reputation int      `json:"reputation"`
}

// Result is the response to one analysis.
type Result struct {
	// AnalysisID is zero when the record was not persisted.
	AnalysisID   int64         `json:"analysis_id"`
	Query        string        `json:"query"`
	Answer       string        `json:"answer"`
	Faithfulness *float64      `json:"faithfulness"`
	Relevancy    *float64      `json:"relevancy"`
	Sources      []Source      `json:"sources"`
	Degraded     []string      `json:"degraded"`
	Persisted    bool          `json:"persisted"`
	GenerationID uint64        `json:"generation_id"`
	States       []State       `json:"states"`
	Duration     time.Duration `json:"duration_ns"`
}

// Analyzer wires retrieval, generation, evaluation and history together.
type Analyzer struct {
	engine      *search.Engine
	generations Generations
	generator   llm.Generator
	evaluator   llm.Evaluator
	history     HistoryWriter

	metrics *telemetry.Metrics
	queries *telemetry.QueryMetrics

	generationBreaker *fixerrors.CircuitBreaker
	evaluationBreaker *fixerrors.CircuitBreaker
	persistRetry      fixerrors.RetryConfig

	observer func(State)
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithEvaluator enables answer grading. Without one, metrics stay null.
func WithEvaluator(e llm.Evaluator) Option {
	return func(a *Analyzer) { a.evaluator = e }
}

// WithMetrics reports stage latency and degradations to Prometheus.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithQueryMetrics records every finished analysis for `stats`.
func WithQueryMetrics(q *telemetry.QueryMetrics) Option {
	return func(a *Analyzer) { a.queries = q }
}

// WithBreakers guards the generation and evaluation oracles.
func WithBreakers(generation, evaluation *fixerrors.CircuitBreaker) Option {
	return func(a *Analyzer) {
		a.generationBreaker = generation
		a.evaluationBreaker = evaluation
	}
}

// WithPersistRetry overrides the history write backoff.
func WithPersistRetry(cfg fixerrors.RetryConfig) Option {
	return func(a *Analyzer) { a.persistRetry = cfg }
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(a *Analyzer) { a.observer = fn }
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(engine *search.Engine, generations Generations, generator llm.Generator, hist HistoryWriter, opts ...Option) *Analyzer {
	a := &Analyzer{
		engine:       engine,
		generations:  generations,
		generator:    generator,
		history:      hist,
		persistRetry: fixerrors.PersistenceRetryConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze answers query from the indexed incidents.
//
// A generation failure returns ErrGenerationFailure and records nothing. An
// evaluation failure keeps the answer with null metrics and the evaluation
// marker; an evaluation timeout is treated the same way, so the record is
// still persisted with null metrics rather than failing the request. A history write that still fails after retries returns the full
// result with Persisted=false together with an ErrPersistence error.
func (a *Analyzer) Analyze(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	trace := newTrace(a.observer)
	query = strings.TrimSpace(query)

	res, err := a.run(ctx, trace, query)

	duration := time.Since(start)
	outcome := telemetry.OutcomeReturned
	switch {
	case res == nil:
		outcome = telemetry.OutcomeFailed
		if trace.Current() != StateFailed {
			trace.move(StateFailed)
		}
	case !res.Persisted:
		outcome = telemetry.OutcomeUnsaved
	}
	a.record(query, outcome, res, duration)

	if res == nil {
		slog.Warn("analysis_failed",
			slog.String("query", truncate(query, 50)),
			slog.String("code", fixerrors.GetCode(err)),
			slog.String("error", err.Error()),
			slog.Duration("duration", duration))
		return nil, err
	}

	trace.move(StateReturned)
	res.States = trace.States()
	res.Duration = duration

	slog.Info("analysis_complete",
		slog.Int64("analysis_id", res.AnalysisID),
		slog.Uint64("generation", res.GenerationID),
		slog.Int("sources", len(res.Sources)),
		slog.Any("degraded", res.Degraded),
		slog.Bool("persisted", res.Persisted),
		slog.Duration("duration", duration))
	return res, err
}

func (a *Analyzer) run(ctx context.Context, trace *Trace, query string) (*Result, error) {
	if query == "" {
		return nil, fixerrors.New(fixerrors.ErrCodeQueryEmpty, "query must not be empty", nil).
			WithSuggestion("pass the error message or stack trace to analyze")
	}

	gen := a.generations.Acquire()
	if gen == nil {
		return nil, fixerrors.InternalError("index is closed", nil)
	}
	defer gen.Release()

	res := &Result{Query: query, GenerationID: gen.ID, Sources: []Source{}, Degraded: []string{}}

	stageStart := time.Now()
	ret, err := a.engine.Retrieve(ctx, gen, query)
	a.metrics.ObserveStage(stageRetrieve, time.Since(stageStart))
	if err != nil {
		return nil, err
	}
	trace.move(StateRetrieved)
	res.Degraded = append(res.Degraded, ret.Degraded...)
	if len(ret.Degraded) > 0 {
		trace.move(StateDegraded)
	}

	stageStart = time.Now()
	fused, fuseDegraded := a.engine.Fuse(ctx, ret)
	a.metrics.ObserveStage(stageFuse, time.Since(stageStart))
	res.Degraded = append(res.Degraded, fuseDegraded...)
	trace.move(StateFused)

	stageStart = time.Now()
	final, outcome := a.engine.Rerank(ctx, gen, query, fused)
	a.metrics.ObserveStage(stageRerank, time.Since(stageStart))
	trace.move(StateReranked)
	if outcome.Degraded {
		res.Degraded = append(res.Degraded, search.DegradedReranker)
		trace.move(StateDegraded)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fragments := make([]string, 0, len(final))
	chunkIDs := make([]string, 0, len(final))
	for _, c := range final {
		chunk, ok := gen.Chunk(c.ChunkID)
		if !ok {
			continue
		}
		fragments = append(fragments, chunk.Content)
		chunkIDs = append(chunkIDs, c.ChunkID)
		res.Sources = append(res.Sources, Source{
			ChunkID:    c.ChunkID,
			Source:     chunk.Source,
			Kind:       string(chunk.Kind),
			Content:    chunk.Content,
			Score:      c.FusedScore,
			Rerank:     c.RerankScore,
			Reputation: c.Reputation,
		})
	}

	stageStart = time.Now()
	answer, err := fixerrors.Guard(a.generationBreaker, func() (string, error) {
		return a.generator.Generate(ctx, query, fragments)
	})
	a.metrics.ObserveStage(stageGenerate, time.Since(stageStart))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, fixerrors.ErrCircuitOpen) {
			err = fixerrors.GenerationFailure("generation is temporarily disabled after repeated failures", err)
		}
		if _, ok := fixerrors.As(err); !ok {
			err = fixerrors.GenerationFailure("answer generation failed", err)
		}
		return nil, err
	}
	res.Answer = answer
	trace.move(StateGenerated)

	if a.evaluator != nil {
		stageStart = time.Now()
		scores, err := fixerrors.Guard(a.evaluationBreaker, func() (*llm.Scores, error) {
			return a.evaluator.Evaluate(ctx, query, answer, fragments)
		})
		a.metrics.ObserveStage(stageEvaluate, time.Since(stageStart))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("evaluation_degraded", slog.String("error", err.Error()))
			res.Degraded = append(res.Degraded, DegradedEvaluation)
		} else {
			f, r := scores.Faithfulness, scores.Relevancy
			res.Faithfulness, res.Relevancy = &f, &r
		}
	}
	trace.move(StateEvaluated)

	rec := &history.Record{
		Query:        query,
		Answer:       answer,
		Faithfulness: res.Faithfulness,
		Relevancy:    res.Relevancy,
		Context:      fragments,
		ChunkIDs:     chunkIDs,
		Degraded:     res.Degraded,
		GenerationID: gen.ID,
	}

	stageStart = time.Now()
	id, err := fixerrors.RetryWithResult(ctx, a.persistRetry, func() (int64, error) {
		return a.history.RecordAnalysis(ctx, rec)
	})
	a.metrics.ObserveStage(stagePersist, time.Since(stageStart))
	if err != nil {
		slog.Error("analysis_not_recorded", slog.String("error", err.Error()))
		if _, ok := fixerrors.As(err); !ok || !errors.Is(err, fixerrors.ErrPersistence) {
			err = fixerrors.PersistenceError("failed to record analysis", err)
		}
		return res, err
	}
	res.AnalysisID = id
	res.Persisted = true
	trace.move(StatePersisted)
	return res, nil
}

// record reports a finished analysis. QueryMetrics forwards the outcome to
// Prometheus itself, so the analyzer observes it directly only without one.
func (a *Analyzer) record(query string, outcome telemetry.Outcome, res *Result, d time.Duration) {
	var degraded []string
	count := 0
	if res != nil {
		degraded = res.Degraded
		count = len(res.Sources)
	}
	for _, component := range degraded {
		a.metrics.IncDegraded(component)
	}
	if a.queries == nil {
		a.metrics.ObserveAnalysis(outcome, d)
		return
	}
	a.queries.Record(telemetry.QueryEvent{
		Query:       query,
		Outcome:     outcome,
		ResultCount: count,
		Degraded:    degraded,
		Latency:     d,
		Timestamp:   time.Now(),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
