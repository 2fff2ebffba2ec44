package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/corpus"
	"github.com/Aman-CERP/fixrecall/internal/embed"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

// Stage names a phase of a build, reported through ProgressFunc.
type Stage string

const (
	StageLoading    Stage = "loading"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StagePersisting Stage = "persisting"
)

// ProgressFunc receives build progress. total is 0 when unknown.
type ProgressFunc func(stage Stage, done, total int)

// RunResult summarizes one build.
type RunResult struct {
	Generation     uint64
	Chunks         int
	Embedded       int
	Reused         int
	DenseAvailable bool
	Sources        []corpus.SourceReport
	Duration       time.Duration
}

// RunnerDependencies are the collaborators a Runner needs.
type RunnerDependencies struct {
	Loader   *corpus.Loader
	Embedder embed.Embedder // optional; nil builds a lexical-only generation
	Assembly Assembly
	// Dimensions overrides the embedder's width when > 0.
	Dimensions int
	BatchSize  int
}

// Runner builds a complete generation off to the side.
type Runner struct {
	loader     *corpus.Loader
	embedder   embed.Embedder
	assembly   Assembly
	dimensions int
	batchSize  int
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Loader == nil {
		return nil, fmt.Errorf("corpus loader is required")
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = embed.DefaultBatchSize
	}
	return &Runner{
		loader:     deps.Loader,
		embedder:   deps.Embedder,
		assembly:   deps.Assembly,
		dimensions: deps.Dimensions,
		batchSize:  batch,
	}, nil
}

// Run loads the corpus, embeds new chunks and builds the indexes. Vectors of
// chunks already present in prev are reused when the embedding model matches.
// An embedding failure does not fail the build: the generation is published
// without a dense index and dense retrieval degrades until the next reindex.
func (r *Runner) Run(ctx context.Context, prev *Generation, id uint64, progress ProgressFunc) (*Generation, *Snapshot, *RunResult, error) {
	start := time.Now()
	if progress == nil {
		progress = func(Stage, int, int) {}
	}

	progress(StageLoading, 0, 0)
	loaded, err := r.loader.Load(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	chunks := loaded.Chunks
	result := &RunResult{Generation: id, Chunks: len(chunks), Sources: loaded.Reports}

	model, dims := "", 0
	vectors := make(map[string][]float32, len(chunks))
	if r.embedder != nil {
		model = r.embedder.ModelName()
		dims = r.dimensions
		if dims <= 0 {
			dims = r.embedder.Dimensions()
		}
		reused, embedded, err := r.embedChunks(ctx, prev, model, dims, chunks, vectors, progress)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, nil, ctx.Err()
			}
			slog.Warn("dense_index_unavailable",
				slog.String("model", model),
				slog.String("error", err.Error()))
			clear(vectors)
			model, dims = "", 0
		} else {
			result.Reused, result.Embedded = reused, embedded
		}
	}

	progress(StageIndexing, 0, len(chunks))
	builtAt := time.Now()
	gen, err := assemble(ctx, r.assembly, id, builtAt, model, dims, chunks, vectors)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build indexes: %w", err)
	}
	progress(StageIndexing, len(chunks), len(chunks))

	result.DenseAvailable = gen.DenseReady()
	result.Duration = time.Since(start)

	snap := &Snapshot{
		ID:         id,
		BuiltAt:    builtAt,
		EmbedModel: model,
		Dimensions: dims,
		Chunks:     chunks,
		Vectors:    gen.vectors,
	}
	return gen, snap, result, nil
}

func (r *Runner) embedChunks(ctx context.Context, prev *Generation, model string, dims int,
	chunks []*store.Chunk, out map[string][]float32, progress ProgressFunc) (reused, embedded int, err error) {
	reuse := prev != nil && prev.EmbedModel == model && prev.Dimensions == dims && dims > 0

	var pending []*store.Chunk
	for _, c := range chunks {
		if reuse {
			if v, ok := prev.Vector(c.ID); ok {
				out[c.ID] = v
				reused++
				continue
			}
		}
		pending = append(pending, c)
	}

	total := len(pending)
	progress(StageEmbedding, 0, total)
	for start := 0; start < total; start += r.batchSize {
		end := min(start+r.batchSize, total)
		texts := make([]string, 0, end-start)
		for _, c := range pending[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return reused, embedded, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		for i, c := range pending[start:end] {
			if dims > 0 && len(vecs[i]) != dims {
				return reused, embedded, store.ErrDimensionMismatch{Expected: dims, Got: len(vecs[i])}
			}
			out[c.ID] = vecs[i]
		}
		embedded += end - start
		progress(StageEmbedding, embedded, total)
	}
	return reused, embedded, nil
}
