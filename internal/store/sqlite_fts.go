package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// SQLiteLexicalIndex ranks with SQLite FTS5's bm25() over an in-memory
// database. Text is pre-tokenized with the same Tokenizer as the other
// backends, so FTS5 only sees space-separated lowercase terms.
type SQLiteLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	tok    *Tokenizer
	count  int
	closed bool
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex creates an empty FTS5 index.
func NewSQLiteLexicalIndex(config BM25Config) (*SQLiteLexicalIndex, error) {
	db, err := OpenSQLite(MemoryDSN)
	if err != nil {
		return nil, err
	}

	// doc_id is UNINDEXED: stored for lookup, never matched.
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLexicalIndex{db: db, tok: NewTokenizer(config)}, nil
}

// Index adds documents. FTS5 tables have no REPLACE, so existing rows are deleted first.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_chunks(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer insertStmt.Close()

	added := 0
	for _, doc := range docs {
		res, err := deleteStmt.ExecContext(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			added++
		}
		content := strings.Join(s.tok.Tokenize(doc.Content), " ")
		if _, err := insertStmt.ExecContext(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.count += added
	return nil
}

// Search matches any query term. bm25() is negative with lower meaning
// better, so it is negated into a non-negative higher-is-better score.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := uniqueTerms(s.tok.Tokenize(query))
	if len(terms) == 0 || limit <= 0 || s.count == 0 {
		return []*LexicalResult{}, nil
	}

	// Quote every term so words like "not" or "near" are never FTS5 operators.
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE fts_chunks MATCH ?
		ORDER BY score, doc_id
		LIMIT ?`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]*LexicalResult, 0, limit)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if score > 0 {
			score = 0
		}
		results = append(results, &LexicalResult{ChunkID: id, Score: -score, MatchedTerms: terms})
	}
	return results, rows.Err()
}

// Count returns the number of indexed documents.
func (s *SQLiteLexicalIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Close closes the database. It is idempotent.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
