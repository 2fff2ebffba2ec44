// Package corpus loads historical incident material (logs, error reports,
// tickets, wiki pages) from configured sources and cuts it into chunks.
package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fixrecall/internal/config"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/store"
)

// Document is one unsplit record produced by a Source.
type Document struct {
	// Source identifies the record inside its origin, e.g. "logs/api.log"
	// or "github:acme/shop#142". It is part of every chunk id.
	Source   string
	Kind     store.ChunkKind
	Content  string
	Metadata map[string]string
}

// Source yields documents from one origin.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Document, error)
}

// SourceReport describes the outcome of loading one source.
type SourceReport struct {
	Name      string
	Documents int
	Err       error
}

// LoadResult is the chunked corpus plus per-source outcomes.
type LoadResult struct {
	Chunks  []*store.Chunk
	Reports []SourceReport
}

// Failed returns the reports of sources that could not be loaded.
func (r *LoadResult) Failed() []SourceReport {
	var out []SourceReport
	for _, rep := range r.Reports {
		if rep.Err != nil {
			out = append(out, rep)
		}
	}
	return out
}

// ChunkID derives a stable chunk identifier from where the chunk came from and
// what it says. Reindexing unchanged material yields the same ids.
func ChunkID(source string, ordinal int, content string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte("#"))
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Splitter cuts documents into overlapping chunks. Wiki pages and tickets
// are markdown and split on headings first; everything else is split by
// characters.
type Splitter struct {
	inner    textsplitter.TextSplitter
	markdown textsplitter.TextSplitter
}

// NewSplitter returns a splitter with the given chunk size and overlap.
func NewSplitter(chunkSize, overlap int) *Splitter {
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(overlap),
		),
		markdown: textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

func (s *Splitter) splitterFor(kind store.ChunkKind) textsplitter.TextSplitter {
	switch kind {
	case store.KindDoc, store.KindTicket:
		return s.markdown
	default:
		return s.inner
	}
}

// Split chunks every document. Blank documents produce no chunks and a chunk
// id seen twice is kept once.
func (s *Splitter) Split(docs []Document) ([]*store.Chunk, error) {
	seen := make(map[string]struct{})
	var chunks []*store.Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		parts, err := s.splitterFor(doc.Kind).SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", doc.Source, err)
		}
		ordinal := 0
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id := ChunkID(doc.Source, ordinal, part)
			ordinal++
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			chunks = append(chunks, &store.Chunk{
				ID:       id,
				Content:  part,
				Source:   doc.Source,
				Kind:     doc.Kind,
				Metadata: copyMetadata(doc.Metadata),
			})
		}
	}
	return chunks, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Loader fans out to every source and splits the result.
type Loader struct {
	sources     []Source
	splitter    *Splitter
	concurrency int
}

// NewLoader creates a loader over sources.
func NewLoader(splitter *Splitter, sources ...Source) *Loader {
	return &Loader{sources: sources, splitter: splitter, concurrency: 4}
}

// FromConfig builds the loader for every configured source.
func FromConfig(ctx context.Context, cfg *config.Config) *Loader {
	var sources []Source
	for _, l := range cfg.Sources.Local {
		sources = append(sources, NewLocalSource(l.Path, l.Extensions))
	}
	for _, it := range cfg.Sources.IssueTrackers {
		sources = append(sources, NewIssueSource(NewGitHubClient(ctx, it), it))
	}
	for _, w := range cfg.Sources.Wikis {
		sources = append(sources, NewWikiSource(NewGitHubClient(ctx, w), w))
	}
	return NewLoader(NewSplitter(cfg.Sources.ChunkSize, cfg.Sources.ChunkOverlap), sources...)
}

// Sources returns the configured sources.
func (l *Loader) Sources() []Source { return l.sources }

// Load reads all sources in parallel. A failing source is reported and skipped;
// Load fails only when sources exist and every one of them failed.
func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	start := time.Now()
	docsPer := make([][]Document, len(l.sources))
	reports := make([]SourceReport, len(l.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, src := range l.sources {
		g.Go(func() error {
			docs, err := src.Load(gctx)
			reports[i] = SourceReport{Name: src.Name(), Documents: len(docs), Err: err}
			if err != nil {
				slog.Warn("source_load_failed",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()))
				return nil
			}
			docsPer[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var all []Document
	for i, docs := range docsPer {
		if reports[i].Err != nil {
			failed++
			continue
		}
		all = append(all, docs...)
	}
	if len(l.sources) > 0 && failed == len(l.sources) {
		return nil, fixerrors.New(fixerrors.ErrCodeCorpusLoad, "every source failed to load", reports[0].Err)
	}

	chunks, err := l.splitter.Split(all)
	if err != nil {
		return nil, fixerrors.New(fixerrors.ErrCodeCorpusLoad, "failed to split documents", err)
	}

	slog.Info("corpus_loaded",
		slog.Int("sources", len(l.sources)),
		slog.Int("failed_sources", failed),
		slog.Int("documents", len(all)),
		slog.Int("chunks", len(chunks)),
		slog.Duration("duration", time.Since(start)))

	return &LoadResult{Chunks: chunks, Reports: reports}, nil
}
