// Package history persists completed analyses and serves history and
// aggregate quality statistics.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

// DefaultLimit is the history page size when the caller does not choose one.
const DefaultLimit = 50

// Record is one completed analysis. Records are append-only.
type Record struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`

	// Nil when the evaluator could not score the answer.
	Faithfulness *float64 `json:"faithfulness"`
	Relevancy    *float64 `json:"relevancy"`

	// Context is the ordered chunk text given to the generator.
	Context  []string `json:"context"`
	ChunkIDs []string `json:"chunk_ids"`

	Degraded     []string `json:"degraded,omitempty"`
	GenerationID uint64   `json:"generation_id"`
}

// Evaluated reports whether both metrics are present.
func (r *Record) Evaluated() bool {
	return r.Faithfulness != nil && r.Relevancy != nil
}

// Stats aggregates every stored analysis. Averages cover evaluated records only
// and are 0.0 when there are none.
type Stats struct {
	TotalAnalyses   int64   `json:"total_analyses"`
	Evaluated       int64   `json:"evaluated"`
	AvgFaithfulness float64 `json:"avg_faithfulness"`
	AvgRelevancy    float64 `json:"avg_relevancy"`
}

// Store is the SQLite history store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the analyses table on db if needed. The caller owns db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		faithfulness REAL,
		relevancy REAL,
		context TEXT NOT NULL DEFAULT '[]',
		chunk_ids TEXT NOT NULL DEFAULT '[]',
		degraded TEXT NOT NULL DEFAULT '[]',
		generation INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp DESC, id DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// RecordAnalysis appends rec and returns the assigned id. The id and the
// timestamp are assigned inside the INSERT, so both increase strictly in
// write order even when the wall clock does not.
func (s *Store) RecordAnalysis(ctx context.Context, rec *Record) (int64, error) {
	if err := validate(rec); err != nil {
		return 0, err
	}

	contextJSON, err := encodeList(rec.Context)
	if err != nil {
		return 0, err
	}
	chunkIDs, err := encodeList(rec.ChunkIDs)
	if err != nil {
		return 0, err
	}
	degraded, err := encodeList(rec.Degraded)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO analyses (timestamp, query, answer, faithfulness, relevancy, context, chunk_ids, degraded, generation)
		VALUES (
			MAX(?, COALESCE((SELECT MAX(timestamp) FROM analyses), 0) + 1),
			?, ?, ?, ?, ?, ?, ?, ?
		)
		RETURNING id
	`, s.now().UnixNano(), rec.Query, rec.Answer, nullable(rec.Faithfulness), nullable(rec.Relevancy),
		contextJSON, chunkIDs, degraded, int64(rec.GenerationID)).Scan(&id)
	if err != nil {
		return 0, fixerrors.PersistenceError("failed to record analysis", err)
	}
	return id, nil
}

func validate(rec *Record) error {
	if rec == nil {
		return fixerrors.ValidationError("record is required", nil)
	}
	if strings.TrimSpace(rec.Query) == "" {
		return fixerrors.ValidationError("record query is empty", nil)
	}
	for name, v := range map[string]*float64{"faithfulness": rec.Faithfulness, "relevancy": rec.Relevancy} {
		if v != nil && (*v < 0 || *v > 1) {
			return fixerrors.ValidationError(fmt.Sprintf("%s %.3f is outside [0,1]", name, *v), nil)
		}
	}
	return nil
}

// GetHistory returns up to limit records, most recent first.
func (s *Store) GetHistory(ctx context.Context, limit int) ([]*Record, error) {
	if limit < 0 {
		return nil, fixerrors.ValidationError(fmt.Sprintf("limit must be >= 0, got %d", limit), nil)
	}
	if limit == 0 {
		return []*Record{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, query, answer, faithfulness, relevancy, context, chunk_ids, degraded, generation
		FROM analyses
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetAnalysis returns one record or ErrAnalysisNotFound.
func (s *Store) GetAnalysis(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, query, answer, faithfulness, relevancy, context, chunk_ids, degraded, generation
		FROM analyses WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fixerrors.New(fixerrors.ErrCodeAnalysisNotFound, fmt.Sprintf("analysis %d not found", id), nil).
			WithDetail("analysis_id", fmt.Sprint(id))
	}
	return rec, err
}

// GetStats aggregates all records in one query.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	var faith, rel sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN faithfulness IS NOT NULL AND relevancy IS NOT NULL THEN 1 END),
		       AVG(faithfulness),
		       AVG(relevancy)
		FROM analyses
	`).Scan(&st.TotalAnalyses, &st.Evaluated, &faith, &rel)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if faith.Valid {
		st.AvgFaithfulness = faith.Float64
	}
	if rel.Valid {
		st.AvgRelevancy = rel.Float64
	}
	return &st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                             Record
		ts, gen                         int64
		faith, rel                      sql.NullFloat64
		contextJSON, chunkIDs, degraded string
	)
	if err := row.Scan(&rec.ID, &ts, &rec.Query, &rec.Answer, &faith, &rel, &contextJSON, &chunkIDs, &degraded, &gen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.GenerationID = uint64(gen)
	if faith.Valid {
		rec.Faithfulness = &faith.Float64
	}
	if rel.Valid {
		rec.Relevancy = &rel.Float64
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{contextJSON, &rec.Context}, {chunkIDs, &rec.ChunkIDs}, {degraded, &rec.Degraded}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode analysis %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func nullable(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
