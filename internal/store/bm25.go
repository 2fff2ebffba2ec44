package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryBM25Index is an in-memory Okapi BM25 index. It is the default lexical
// backend: scores are exact and reproducible for a fixed corpus and query.
//
//	idf(t)   = ln(1 + (N - n(t) + 0.5) / (n(t) + 0.5))
//	score(d) = sum_t idf(t) * tf*(k1+1) / (tf + k1*(1 - b + b*|d|/avgdl))
type MemoryBM25Index struct {
	mu       sync.RWMutex
	config   BM25Config
	tok      *Tokenizer
	docs     map[string]*bm25Doc
	postings map[string]map[string]int // term -> doc ID -> term frequency
	totalLen int
	closed   bool
}

type bm25Doc struct {
	length int
	terms  map[string]int
}

var _ LexicalIndex = (*MemoryBM25Index)(nil)

// NewMemoryBM25Index creates an empty index.
func NewMemoryBM25Index(config BM25Config) *MemoryBM25Index {
	if config.K1 == 0 {
		config.K1 = 1.2
	}
	if config.B == 0 {
		config.B = 0.75
	}
	return &MemoryBM25Index{
		config:   config,
		tok:      NewTokenizer(config),
		docs:     make(map[string]*bm25Doc),
		postings: make(map[string]map[string]int),
	}
}

// Index adds documents to the index.
func (m *MemoryBM25Index) Index(_ context.Context, docs []*Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		m.removeLocked(doc.ID)

		tokens := m.tok.Tokenize(doc.Content)
		d := &bm25Doc{length: len(tokens), terms: make(map[string]int)}
		for _, t := range tokens {
			d.terms[t]++
		}
		for t, tf := range d.terms {
			p := m.postings[t]
			if p == nil {
				p = make(map[string]int)
				m.postings[t] = p
			}
			p[doc.ID] = tf
		}
		m.docs[doc.ID] = d
		m.totalLen += d.length
	}
	return nil
}

func (m *MemoryBM25Index) removeLocked(id string) {
	d, ok := m.docs[id]
	if !ok {
		return
	}
	for t := range d.terms {
		delete(m.postings[t], id)
		if len(m.postings[t]) == 0 {
			delete(m.postings, t)
		}
	}
	m.totalLen -= d.length
	delete(m.docs, id)
}

// Search returns documents matching query, scored by BM25.
// Ties are broken by chunk ID so the order is deterministic.
func (m *MemoryBM25Index) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(m.docs)
	if n == 0 || limit <= 0 {
		return []*LexicalResult{}, nil
	}

	terms := uniqueTerms(m.tok.Tokenize(query))
	if len(terms) == 0 {
		return []*LexicalResult{}, nil
	}

	avgdl := float64(m.totalLen) / float64(n)
	k1, b := m.config.K1, m.config.B

	scores := make(map[string]float64)
	matched := make(map[string][]string)
	for _, t := range terms {
		posting := m.postings[t]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for id, tf := range posting {
			dl := float64(m.docs[id].length)
			norm := 1 - b
			if avgdl > 0 {
				norm += b * dl / avgdl
			}
			f := float64(tf)
			scores[id] += idf * f * (k1 + 1) / (f + k1*norm)
			matched[id] = append(matched[id], t)
		}
	}

	results := make([]*LexicalResult, 0, len(scores))
	for id, s := range scores {
		results = append(results, &LexicalResult{ChunkID: id, Score: s, MatchedTerms: matched[id]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (m *MemoryBM25Index) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Close releases the index. It is idempotent.
func (m *MemoryBM25Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.docs = nil
	m.postings = nil
	return nil
}

// uniqueTerms keeps the first occurrence of each term, preserving order.
func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
