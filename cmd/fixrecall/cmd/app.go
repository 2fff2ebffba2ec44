package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/async"
	"github.com/Aman-CERP/fixrecall/internal/config"
	"github.com/Aman-CERP/fixrecall/internal/corpus"
	"github.com/Aman-CERP/fixrecall/internal/embed"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/feedback"
	"github.com/Aman-CERP/fixrecall/internal/history"
	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/llm"
	"github.com/Aman-CERP/fixrecall/internal/output"
	"github.com/Aman-CERP/fixrecall/internal/pipeline"
	"github.com/Aman-CERP/fixrecall/internal/search"
	"github.com/Aman-CERP/fixrecall/internal/store"
	"github.com/Aman-CERP/fixrecall/internal/telemetry"
)

// Breaker settings shared by every remote dependency.
const (
	breakerFailures = 3
	breakerReset    = 30 * time.Second
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg *config.Config

	historyDB *sql.DB
	indexDB   *sql.DB

	history      *history.Store
	reputation   *store.SQLiteReputationStore
	metricsStore *telemetry.SQLiteMetricsStore

	embedder embed.Embedder
	manager  *index.Manager
	engine   *search.Engine

	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	queries  *telemetry.QueryMetrics

	generator *llm.OllamaGenerator
	judge     *llm.Judge
	analyzer  *pipeline.Analyzer
	adjuster  *feedback.Adjuster

	lastRun atomic.Pointer[index.RunResult]
}

// loadConfig reads the configuration from --config-dir.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fixerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Check .fixrecall.yaml in " + configDir)
	}
	return cfg, nil
}

// openApp wires storage, indexes, search and the LLM stages. The published
// index generation is loaded from index.db; nothing is rebuilt here.
func openApp(ctx context.Context) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fixerrors.PersistenceError("failed to create data directory", err)
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStorage(); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = telemetry.NewMetrics(a.registry)
	a.queries = telemetry.NewQueryMetrics(a.metricsStore, a.metrics)

	a.embedder, err = embed.New(ctx, cfg.Embeddings, cfg.Dense.Dimensions)
	if err != nil {
		slog.Warn("embedder_unavailable_using_static",
			slog.String("provider", cfg.Embeddings.Provider),
			slog.String("error", err.Error()))
		a.embedder = embed.NewCachedEmbedder(embed.NewStaticEmbedder(cfg.Dense.Dimensions), cfg.Embeddings.CacheSize)
	}

	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}
	a.buildEngine(ctx)

	if err := a.buildLLM(); err != nil {
		return nil, err
	}
	return a, nil
}

// openStores opens the databases only, for commands that neither search nor index.
func openStores() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fixerrors.PersistenceError("failed to create data directory", err)
	}
	a := &app{cfg: cfg}
	if err := a.openStorage(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage() error {
	var err error
	a.historyDB, err = store.OpenSQLite(a.cfg.Storage.HistoryPath())
	if err != nil {
		return fixerrors.PersistenceError("failed to open history database", err)
	}
	if a.history, err = history.NewStore(a.historyDB); err != nil {
		return fixerrors.PersistenceError("failed to prepare history store", err)
	}
	if a.reputation, err = store.NewSQLiteReputationStore(a.historyDB); err != nil {
		return fixerrors.PersistenceError("failed to prepare reputation store", err)
	}
	if a.metricsStore, err = telemetry.NewSQLiteMetricsStore(a.historyDB); err != nil {
		return fixerrors.PersistenceError("failed to prepare telemetry store", err)
	}

	a.indexDB, err = store.OpenSQLite(a.cfg.Storage.IndexPath())
	if err != nil {
		return fixerrors.PersistenceError("failed to open index database", err)
	}
	return nil
}

func (a *app) openIndex(ctx context.Context) error {
	snapshots, err := index.NewSnapshotStore(a.indexDB)
	if err != nil {
		return fixerrors.PersistenceError("failed to prepare index snapshot store", err)
	}
	assembly := index.Assembly{
		LexicalBackend: a.cfg.Lexical.Backend,
		DenseBackend:   a.cfg.Dense.Backend,
		BM25:           store.DefaultBM25Config(),
	}
	runner, err := index.NewRunner(index.RunnerDependencies{
		Loader:     corpus.FromConfig(ctx, a.cfg),
		Embedder:   a.embedder,
		Assembly:   assembly,
		Dimensions: a.cfg.Dense.Dimensions,
		BatchSize:  a.cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return err
	}
	a.manager, err = index.NewManager(index.ManagerConfig{
		Runner:    runner,
		Snapshots: snapshots,
		Assembly:  assembly,
		LockPath:  a.cfg.Storage.LockPath(),
	})
	if err != nil {
		return err
	}
	if err := a.manager.Open(ctx); err != nil {
		return err
	}
	if g := a.manager.Current(); g != nil {
		a.metrics.SetIndex(g.ID, g.Count())
		if g.EmbedModel != "" && g.EmbedModel != a.embedder.ModelName() {
			slog.Warn("embedder_differs_from_index",
				slog.String("index_model", g.EmbedModel),
				slog.String("query_model", a.embedder.ModelName()),
				slog.String("hint", "dense retrieval is skipped until `fixrecall reindex`"))
		}
	}
	return nil
}

func (a *app) buildEngine(ctx context.Context) {
	cfg := a.cfg
	dense := search.NewDenseRetriever(a.embedder, cfg.Embeddings.Timeout,
		fixerrors.NewCircuitBreaker("dense",
			fixerrors.WithMaxFailures(breakerFailures),
			fixerrors.WithResetTimeout(breakerReset)))
	reranker := search.NewRerankerFromConfig(ctx, cfg.Reranker,
		fixerrors.NewCircuitBreaker("reranker",
			fixerrors.WithMaxFailures(breakerFailures),
			fixerrors.WithResetTimeout(breakerReset)))

	a.engine = search.NewEngine(dense,
		search.WithReranker(reranker),
		search.WithReputation(a.reputation),
		search.WithWeights(search.WeightsFromConfig(cfg.Fusion)),
		search.WithFuser(search.FuserFromConfig(cfg.Fusion)),
		search.WithCandidatePool(cfg.Fusion.CandidatePool))
}

func (a *app) buildLLM() error {
	var err error
	a.generator, err = llm.NewGeneratorFromConfig(a.cfg.Generation)
	if err != nil {
		return err
	}
	a.judge, err = llm.NewJudgeFromConfig(a.cfg.Evaluation)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithQueryMetrics(a.queries),
		pipeline.WithBreakers(
			fixerrors.NewCircuitBreaker("generation",
				fixerrors.WithMaxFailures(breakerFailures),
				fixerrors.WithResetTimeout(breakerReset)),
			fixerrors.NewCircuitBreaker("evaluation",
				fixerrors.WithMaxFailures(breakerFailures),
				fixerrors.WithResetTimeout(breakerReset))),
	}
	if a.judge != nil {
		opts = append(opts, pipeline.WithEvaluator(a.judge))
	}
	a.analyzer = pipeline.NewAnalyzer(a.engine, a.manager, a.generator, a.history, opts...)
	a.adjuster = feedback.NewAdjuster(a.reputation, a.manager,
		feedback.WithAnalyses(a.history),
		feedback.WithMetrics(a.metrics))
	return nil
}

// rebuild is the async.ReindexFunc behind reindex and watch.
func (a *app) rebuild(ctx context.Context, progress *async.IndexProgress) error {
	res, err := a.manager.Rebuild(ctx, progress.Report)
	if err != nil {
		a.metrics.ObserveReindex(err, 0, 0)
		return err
	}
	a.metrics.ObserveReindex(nil, res.Generation, res.Chunks)
	a.lastRun.Store(res)
	return nil
}

// Close flushes telemetry and releases every resource. Safe on a partly
// built app.
func (a *app) Close() {
	if a.queries != nil {
		if err := a.queries.Close(); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.manager != nil {
		_ = a.manager.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	for _, db := range []*sql.DB{a.indexDB, a.historyDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}

// newWriter builds the output writer for cmd.
func newWriter(cmd *cobra.Command, jsonOutput bool) *output.Writer {
	return output.NewWithOptions(cmd.OutOrStdout(), output.Options{JSON: jsonOutput, NoColor: noColor})
}

// sourceNames lists configured sources for status output.
func sourceNames(cfg *config.Config) []string {
	var names []string
	for _, l := range cfg.Sources.Local {
		names = append(names, "local:"+l.Path)
	}
	for _, it := range cfg.Sources.IssueTrackers {
		names = append(names, "issues:"+it.Name())
	}
	for _, w := range cfg.Sources.Wikis {
		names = append(names, "wiki:"+w.Name())
	}
	return names
}

// progressPrinter renders reindex progress on w until done is closed.
func progressPrinter(w io.Writer, out *output.Writer, progress *async.IndexProgress, done <-chan struct{}) {
	if !output.IsTTY(w) {
		<-done
		return
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := progress.Snapshot()
			if snap.Total > 0 && snap.Done < snap.Total {
				out.Progress(snap.Done, snap.Total, fmt.Sprintf("%-10s", snap.Stage))
			}
		}
	}
}
