package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/store"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS generation (
	singleton   INTEGER PRIMARY KEY CHECK (singleton = 1),
	id          INTEGER NOT NULL,
	built_at    INTEGER NOT NULL,
	embed_model TEXT NOT NULL,
	dimensions  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id       TEXT PRIMARY KEY,
	content  TEXT NOT NULL,
	source   TEXT NOT NULL,
	kind     TEXT NOT NULL,
	metadata TEXT,
	vector   BLOB
);
`

// Snapshot is the persisted form of a generation.
type Snapshot struct {
	ID         uint64
	BuiltAt    time.Time
	EmbedModel string
	Dimensions int
	Chunks     []*store.Chunk
	Vectors    map[string][]float32
}

// SnapshotStore keeps the current generation on disk so a new process can
// serve queries without re-reading sources or re-embedding.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates the snapshot tables in db.
func NewSnapshotStore(db *sql.DB) (*SnapshotStore, error) {
	if _, err := db.Exec(snapshotSchema); err != nil {
		return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Save replaces the stored snapshot in one transaction. Readers in other
// processes see either the old generation or the new one.
func (s *SnapshotStore) Save(ctx context.Context, snap *Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, content, source, kind, metadata, vector) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range snap.Chunks {
		var meta []byte
		if len(c.Metadata) > 0 {
			if meta, err = json.Marshal(c.Metadata); err != nil {
				return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
			}
		}
		var blob []byte
		if v, ok := snap.Vectors[c.ID]; ok {
			blob = encodeVector(v)
		}
		if _, err = stmt.ExecContext(ctx, c.ID, c.Content, c.Source, string(c.Kind), nullableText(meta), blob); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO generation (singleton, id, built_at, embed_model, dimensions) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			id = excluded.id, built_at = excluded.built_at,
			embed_model = excluded.embed_model, dimensions = excluded.dimensions`,
		int64(snap.ID), snap.BuiltAt.UnixNano(), snap.EmbedModel, snap.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to write generation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// GenerationID returns the stored generation id, or 0 if none was saved.
func (s *SnapshotStore) GenerationID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM generation WHERE singleton = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation id: %w", err)
	}
	return uint64(id), nil
}

// Load reads the stored snapshot. It returns nil, nil when nothing was saved.
func (s *SnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id       int64
		builtAt  int64
		snapshot Snapshot
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, built_at, embed_model, dimensions FROM generation WHERE singleton = 1`).
		Scan(&id, &builtAt, &snapshot.EmbedModel, &snapshot.Dimensions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generation: %w", err)
	}
	snapshot.ID = uint64(id)
	snapshot.BuiltAt = time.Unix(0, builtAt)
	snapshot.Vectors = make(map[string][]float32)

	rows, err := tx.QueryContext(ctx, `SELECT id, content, source, kind, metadata, vector FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			c    store.Chunk
			kind string
			meta sql.NullString
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &kind, &meta, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Kind = store.ChunkKind(kind)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", c.ID, err)
			}
		}
		if len(blob) > 0 {
			v, err := decodeVector(blob)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			snapshot.Vectors[c.ID] = v
		}
		snapshot.Chunks = append(snapshot.Chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return &snapshot, nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
