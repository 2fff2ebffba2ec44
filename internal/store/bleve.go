package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// TraceTokenizerName is the bleve name of the identifier-splitting tokenizer.
	TraceTokenizerName = "fixrecall_trace_tokenizer"

	// TraceStopFilterName is the bleve name of the stop word filter.
	TraceStopFilterName = "fixrecall_trace_stop"

	// TraceAnalyzerName is the analyzer used for the content field.
	TraceAnalyzerName = "fixrecall_trace_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(TraceTokenizerName, traceTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TraceStopFilterName, traceStopFilterConstructor)
}

// BleveLexicalIndex is the alternate lexical backend: an in-memory bleve index
// using the same tokenization as MemoryBM25Index. Scores are bleve's own, so
// absolute values differ from the default backend while staying >= 0.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// bleveChunk is the document structure for bleve indexing.
type bleveChunk struct {
	Content string `json:"content"`
}

// NewBleveLexicalIndex creates an in-memory bleve index.
func NewBleveLexicalIndex() (*BleveLexicalIndex, error) {
	indexMapping, err := newTraceMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}
	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &BleveLexicalIndex{index: idx}, nil
}

func newTraceMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(TraceAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": TraceTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			TraceStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = TraceAnalyzerName
	return indexMapping, nil
}

// Index adds documents in one batch.
func (b *BleveLexicalIndex) Index(_ context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveChunk{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a match query over the content field.
func (b *BleveLexicalIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &LexicalResult{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

// Count returns the number of indexed documents.
func (b *BleveLexicalIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func matchedTerms(hit *search.DocumentMatch) []string {
	locations := hit.Locations["content"]
	terms := make([]string, 0, len(locations))
	for term := range locations {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func traceTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &traceTokenizer{}, nil
}

// traceTokenizer adapts TokenizeCode to bleve's token stream.
type traceTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *traceTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, tok := range tokens {
		start := offset
		if at := strings.Index(lower[offset:], tok); at >= 0 {
			start = offset + at
		}
		end := start + len(tok)
		if end > len(text) {
			end = len(text)
		}
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

func traceStopFilterConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	return &traceStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type traceStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *traceStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := f.stopWords[string(tok.Term)]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
