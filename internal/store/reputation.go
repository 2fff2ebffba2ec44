package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ReputationStore persists the net feedback score of each chunk. Apply is an
// atomic read-modify-write per chunk and is idempotent per event ID.
type ReputationStore interface {
	// Get returns the chunk's reputation, 0 if it has never been rated.
	Get(ctx context.Context, chunkID string) (int, error)

	// Snapshot returns the reputation of every listed chunk (0 when unrated).
	// The map is a copy owned by the caller.
	Snapshot(ctx context.Context, chunkIDs []string) (map[string]int, error)

	// Apply adds delta to the chunk's reputation and returns the new value.
	// A non-empty eventID that was already applied changes nothing and
	// reports applied=false with the current value.
	Apply(ctx context.Context, eventID, chunkID string, delta int) (applied bool, value int, err error)
}

// SQLiteReputationStore keeps reputation in the history database.
type SQLiteReputationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ReputationStore = (*SQLiteReputationStore)(nil)

// NewSQLiteReputationStore creates the reputation tables on db if needed.
// The caller owns db and closes it.
func NewSQLiteReputationStore(db *sql.DB) (*SQLiteReputationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	schema := `
	CREATE TABLE IF NOT EXISTS reputation (
		chunk_id TEXT PRIMARY KEY,
		score INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	-- One row per applied feedback event; the primary key makes replays no-ops.
	CREATE TABLE IF NOT EXISTS feedback_events (
		event_id TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		applied_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_events_chunk ON feedback_events(chunk_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create reputation schema: %w", err)
	}
	return &SQLiteReputationStore{db: db, now: time.Now}, nil
}

// Get returns the chunk's reputation.
func (s *SQLiteReputationStore) Get(ctx context.Context, chunkID string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx, `SELECT score FROM reputation WHERE chunk_id = ?`, chunkID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query reputation: %w", err)
	}
	return score, nil
}

// Snapshot returns reputation for chunkIDs in one query.
func (s *SQLiteReputationStore) Snapshot(ctx context.Context, chunkIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
		out[id] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT chunk_id, score FROM reputation WHERE chunk_id IN (%s)`, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query reputation snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[id] = score
	}
	return out, rows.Err()
}

// Apply records the event and upserts the score in one transaction.
func (s *SQLiteReputationStore) Apply(ctx context.Context, eventID, chunkID string, delta int) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixNano()

	if eventID != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO feedback_events (event_id, chunk_id, delta, applied_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(event_id) DO NOTHING
		`, eventID, chunkID, delta, now)
		if err != nil {
			return false, 0, fmt.Errorf("record feedback event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var score int
			err := tx.QueryRowContext(ctx, `SELECT score FROM reputation WHERE chunk_id = ?`, chunkID).Scan(&score)
			if err != nil && err != sql.ErrNoRows {
				return false, 0, fmt.Errorf("query reputation: %w", err)
			}
			return false, score, nil
		}
	}

	var score int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reputation (chunk_id, score, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			score = score + excluded.score,
			updated_at = excluded.updated_at
		RETURNING score
	`, chunkID, delta, now).Scan(&score)
	if err != nil {
		return false, 0, fmt.Errorf("upsert reputation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit transaction: %w", err)
	}
	return true, score, nil
}

// MemoryReputationStore is an in-process ReputationStore. Updates to one chunk
// serialize on that chunk's mutex; different chunks proceed in parallel.
type MemoryReputationStore struct {
	mu      sync.Mutex // guards entries
	entries map[string]*reputationEntry

	eventsMu sync.Mutex
	events   map[string]struct{}
}

type reputationEntry struct {
	mu    sync.Mutex
	score int
}

var _ ReputationStore = (*MemoryReputationStore)(nil)

// NewMemoryReputationStore creates an empty store.
func NewMemoryReputationStore() *MemoryReputationStore {
	return &MemoryReputationStore{
		entries: make(map[string]*reputationEntry),
		events:  make(map[string]struct{}),
	}
}

func (m *MemoryReputationStore) entry(chunkID string) *reputationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[chunkID]
	if !ok {
		e = &reputationEntry{}
		m.entries[chunkID] = e
	}
	return e
}

// Get returns the chunk's reputation.
func (m *MemoryReputationStore) Get(_ context.Context, chunkID string) (int, error) {
	e := m.entry(chunkID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score, nil
}

// Snapshot copies the listed scores.
func (m *MemoryReputationStore) Snapshot(ctx context.Context, chunkIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(chunkIDs))
	for _, id := range chunkIDs {
		out[id], _ = m.Get(ctx, id)
	}
	return out, nil
}

// Apply adds delta under the chunk's lock.
func (m *MemoryReputationStore) Apply(ctx context.Context, eventID, chunkID string, delta int) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	e := m.entry(chunkID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if eventID != "" {
		m.eventsMu.Lock()
		_, seen := m.events[eventID]
		m.events[eventID] = struct{}{}
		m.eventsMu.Unlock()
		if seen {
			return false, e.score, nil
		}
	}
	e.score += delta
	return true, e.score, nil
}
