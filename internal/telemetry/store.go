package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// maxZeroResultQueries bounds the persisted zero-result ring.
const maxZeroResultQueries = 100

// SQLiteMetricsStore implements QueryMetricsStore on the history database.
type SQLiteMetricsStore struct {
	db *sql.DB
}

var _ QueryMetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore creates the telemetry tables if needed.
// The db is shared with history and is not closed by this store.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_outcome_stats (
		date TEXT NOT NULL,
		outcome TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, outcome)
	);

	CREATE TABLE IF NOT EXISTS degraded_stats (
		date TEXT NOT NULL,
		component TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, component)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// upsertDaily adds counts into a (date, key) -> count table.
func (s *SQLiteMetricsStore) upsertDaily(table, keyCol, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (date, %s, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, %s) DO UPDATE SET count = count + excluded.count
	`, table, keyCol, keyCol))
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for k, v := range counts {
		if _, err := stmt.Exec(date, k, v); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SaveOutcomeCounts adds daily outcome counts.
func (s *SQLiteMetricsStore) SaveOutcomeCounts(date string, counts map[Outcome]int64) error {
	m := make(map[string]int64, len(counts))
	for k, v := range counts {
		m[string(k)] = v
	}
	return s.upsertDaily("analysis_outcome_stats", "outcome", date, m)
}

// SaveDegradedCounts adds daily degraded-mode counts per component.
func (s *SQLiteMetricsStore) SaveDegradedCounts(date string, counts map[string]int64) error {
	return s.upsertDaily("degraded_stats", "component", date, counts)
}

// SaveLatencyCounts adds daily latency histogram counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	m := make(map[string]int64, len(counts))
	for k, v := range counts {
		m[string(k)] = v
	}
	return s.upsertDaily("query_latency_stats", "bucket", date, m)
}

// GetOutcomeCounts sums outcome counts over [from, to].
func (s *SQLiteMetricsStore) GetOutcomeCounts(from, to string) (map[Outcome]int64, error) {
	rows, err := s.db.Query(`
		SELECT outcome, SUM(count) FROM analysis_outcome_stats
		WHERE date >= ? AND date <= ?
		GROUP BY outcome
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int64)
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[Outcome(k)] = v
	}
	return counts, rows.Err()
}

// GetLatencyCounts sums the latency distribution over [from, to].
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(k)] = v
	}
	return counts, rows.Err()
}

// UpsertTermCounts adds term frequencies.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms returns the most frequent query terms.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	terms := []TermCount{}
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery appends to the ring, keeping the newest 100.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := s.db.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, query, timestamp); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	_, err := s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
		)
	`, maxZeroResultQueries)
	if err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// GetZeroResultQueries returns recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	queries := []string{}
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// GetDegradedCounts sums degraded-mode counts per component over [from, to].
func (s *SQLiteMetricsStore) GetDegradedCounts(from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT component, SUM(count) FROM degraded_stats
		WHERE date >= ? AND date <= ?
		GROUP BY component
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query degraded counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[k] = v
	}
	return counts, rows.Err()
}

// Summary rebuilds a snapshot from the flushed aggregates of the last days
// days, today included. Repeat counts are process-local and stay zero;
// ZeroResultCount covers the retained ring rather than the window.
func (s *SQLiteMetricsStore) Summary(days int, now time.Time) (*QueryMetricsSnapshot, error) {
	if days < 1 {
		days = 1
	}
	since := now.AddDate(0, 0, -(days - 1))
	from, to := since.Format("2006-01-02"), now.Format("2006-01-02")

	outcomes, err := s.GetOutcomeCounts(from, to)
	if err != nil {
		return nil, err
	}
	degraded, err := s.GetDegradedCounts(from, to)
	if err != nil {
		return nil, err
	}
	latencies, err := s.GetLatencyCounts(from, to)
	if err != nil {
		return nil, err
	}
	terms, err := s.GetTopTerms(10)
	if err != nil {
		return nil, err
	}
	zero, err := s.GetZeroResultQueries(maxZeroResultQueries)
	if err != nil {
		return nil, err
	}

	snap := &QueryMetricsSnapshot{
		OutcomeCounts:       outcomes,
		DegradedCounts:      degraded,
		TopTerms:            terms,
		ZeroResultQueries:   zero,
		LatencyDistribution: latencies,
		Since:               time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, now.Location()),
	}
	for _, n := range outcomes {
		snap.TotalQueries += n
	}
	snap.ZeroResultCount = int64(len(zero))
	return snap, nil
}
