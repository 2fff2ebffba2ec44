package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Runner    *Runner
	Snapshots *SnapshotStore // optional; nil keeps generations in memory only
	Assembly  Assembly
	// LockPath is the cross-process reindex lock. Empty disables it.
	LockPath string
}

// Manager owns the current generation and replaces it atomically.
type Manager struct {
	current   atomic.Pointer[Generation]
	runner    *Runner
	snapshots *SnapshotStore
	assembly  Assembly
	lock      *flock.Flock

	buildMu sync.Mutex
}

// NewManager creates a manager serving an empty generation until Open or
// Rebuild publishes a real one.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		runner:    cfg.Runner,
		snapshots: cfg.Snapshots,
		assembly:  cfg.Assembly,
	}
	if cfg.LockPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LockPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		m.lock = flock.New(cfg.LockPath)
	}

	empty, err := assemble(context.Background(), cfg.Assembly, 0, time.Time{}, "", 0, nil, nil)
	if err != nil {
		return nil, err
	}
	m.current.Store(empty)
	return m, nil
}

// Current returns the published generation without pinning it. Use it for
// read-only inspection; requests should use Acquire.
func (m *Manager) Current() *Generation { return m.current.Load() }

// Acquire pins the current generation. Callers must Release it.
func (m *Manager) Acquire() *Generation {
	for {
		g := m.current.Load()
		if g == nil {
			return nil
		}
		if g.tryAcquire() {
			return g
		}
	}
}

// publish swaps in g and drops the manager's reference to the old generation.
func (m *Manager) publish(g *Generation) {
	old := m.current.Swap(g)
	if old != nil {
		old.Release()
	}
}

// Open loads the persisted snapshot, if any, and publishes it.
func (m *Manager) Open(ctx context.Context) error {
	if m.snapshots == nil {
		return nil
	}
	snap, err := m.snapshots.Load(ctx)
	if err != nil {
		return fixerrors.New(fixerrors.ErrCodeCorpusLoad, "failed to load index snapshot", err)
	}
	if snap == nil {
		slog.Debug("index_snapshot_missing")
		return nil
	}
	g, err := assemble(ctx, m.assembly, snap.ID, snap.BuiltAt, snap.EmbedModel, snap.Dimensions, snap.Chunks, snap.Vectors)
	if err != nil {
		return fmt.Errorf("failed to rebuild indexes from snapshot: %w", err)
	}
	if res := Check(g); !res.Healthy() {
		slog.Warn("index_snapshot_inconsistent",
			slog.Uint64("generation", g.ID),
			slog.Int("issues", len(res.Inconsistencies)),
			slog.String("first", res.Inconsistencies[0].Type.String()))
	}
	m.publish(g)
	slog.Info("index_opened",
		slog.Uint64("generation", g.ID),
		slog.Int("chunks", g.Count()),
		slog.Bool("dense", g.DenseReady()))
	return nil
}

// Refresh republishes the snapshot when another process saved a newer generation.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	if m.snapshots == nil {
		return false, nil
	}
	id, err := m.snapshots.GenerationID(ctx)
	if err != nil {
		return false, err
	}
	if id <= m.Current().ID {
		return false, nil
	}
	if err := m.Open(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Rebuild builds a new generation, persists it and swaps it in. Requests that
// pinned the previous generation keep it until they release it. Only one
// rebuild runs per data directory; a concurrent one fails with ErrIndexLocked.
func (m *Manager) Rebuild(ctx context.Context, progress ProgressFunc) (*RunResult, error) {
	if m.runner == nil {
		return nil, fixerrors.InternalError("index manager has no runner", nil)
	}

	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	if m.lock != nil {
		locked, err := m.lock.TryLock()
		if err != nil {
			return nil, fixerrors.New(fixerrors.ErrCodeIndexLocked, "failed to acquire reindex lock", err)
		}
		if !locked {
			return nil, fixerrors.ErrIndexLocked
		}
		defer func() { _ = m.lock.Unlock() }()
	}

	prev := m.Acquire()
	defer prev.Release()

	nextID := prev.ID + 1
	if m.snapshots != nil {
		if stored, err := m.snapshots.GenerationID(ctx); err == nil && stored >= nextID {
			nextID = stored + 1
		}
	}

	gen, snap, result, err := m.runner.Run(ctx, prev, nextID, progress)
	if err != nil {
		return nil, err
	}

	if m.snapshots != nil {
		if progress != nil {
			progress(StagePersisting, 0, 1)
		}
		if err := m.snapshots.Save(ctx, snap); err != nil {
			gen.Release()
			return nil, fixerrors.PersistenceError("failed to persist index generation", err)
		}
		if progress != nil {
			progress(StagePersisting, 1, 1)
		}
	}

	m.publish(gen)
	slog.Info("reindex_complete",
		slog.Uint64("generation", gen.ID),
		slog.Int("chunks", result.Chunks),
		slog.Int("embedded", result.Embedded),
		slog.Int("reused", result.Reused),
		slog.Bool("dense", result.DenseAvailable),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// Close releases the published generation.
func (m *Manager) Close() error {
	if g := m.current.Swap(nil); g != nil {
		g.Release()
	}
	return nil
}
