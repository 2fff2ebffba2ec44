package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/async"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestFilter_Accept(t *testing.T) {
	f := newFilter(Options{Extensions: []string{"log", ".JSON"}}.WithDefaults().Extensions)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"app.log", false, true},
		{"nested/report.json", false, true},
		{"REPORT.JSON", false, true},
		{"notes.md", false, false},
		{".hidden.log", false, false},
		{".git/HEAD.log", false, false},
		{"archive", true, false},
		{".", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.accept(tt.path, tt.isDir))
		})
	}

	assert.True(t, newFilter(nil).accept("anything.bin", false))
	assert.True(t, f.skipDir(".cache"))
	assert.False(t, f.skipDir("incidents"))
}

// startWatcher runs w over roots and stops it at test cleanup.
func startWatcher(t *testing.T, w *Watcher, roots ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, roots...)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
		<-done
	})
	require.Eventually(t, func() bool { return len(w.Roots()) == len(roots) }, 2*time.Second, 5*time.Millisecond)
	// fsnotify registration is synchronous inside Start, but give the loop a moment.
	time.Sleep(50 * time.Millisecond)
}

func nextBatch(t *testing.T, w *Watcher) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-w.Events():
		require.True(t, ok, "events channel closed")
		return batch
	case err := <-w.Errors():
		t.Fatalf("unexpected watcher error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for a batch")
	}
	return nil
}

func TestWatcher_ReportsMatchingFiles(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a watched directory accepting .log files
			dir := t.TempDir()
			w, err := New(Options{
				Debounce:     30 * time.Millisecond,
				PollInterval: 30 * time.Millisecond,
				Extensions:   []string{".log"},
				ForcePolling: polling,
			})
			require.NoError(t, err)
			startWatcher(t, w, dir)

			// When: a log and an unrelated file are written
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.png"), []byte{1}, 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("ERROR boom"), 0o644))

			// Then: only the log is reported, relative to its root
			batch := nextBatch(t, w)
			require.Len(t, batch, 1)
			assert.Equal(t, "app.log", batch[0].Path)
			abs, _ := filepath.Abs(dir)
			assert.Equal(t, abs, batch[0].Root)
			if polling {
				assert.Equal(t, []string{abs}, w.Polled())
			}
		})
	}
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Debounce: 30 * time.Millisecond, Extensions: []string{".log"}})
	require.NoError(t, err)
	startWatcher(t, w, dir)

	sub := filepath.Join(dir, "2026-10")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "worker.log"), []byte("panic"), 0o644))

	require.Eventually(t, func() bool {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				if e.Path == filepath.Join("2026-10", "worker.log") {
					return true
				}
			}
		default:
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_MissingRootIsCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	w, err := New(Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	startWatcher(t, w, dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWatcher_StopClosesChannels(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	startWatcher(t, w, t.TempDir())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, open := <-w.Events()
	assert.False(t, open)
	_, open = <-w.Errors()
	assert.False(t, open)
}

func TestWatcher_StartRequiresRoots(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.Start(context.Background()))
}

type countingTrigger struct {
	n atomic.Int32
}

func (c *countingTrigger) Trigger() async.Ack {
	c.n.Add(1)
	return async.Ack{Started: true}
}

func TestAutoReindex_TriggersOncePerBatch(t *testing.T) {
	// Given: a watcher wired to a reindex trigger
	dir := t.TempDir()
	w, err := New(Options{Debounce: 50 * time.Millisecond, Extensions: []string{".log"}})
	require.NoError(t, err)
	startWatcher(t, w, dir)

	trigger := &countingTrigger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go AutoReindex(ctx, w, trigger)

	// When: a burst of writes lands inside one debounce window
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte{byte('a' + i)}, 0o644))
	}

	// Then: the burst becomes a single reindex
	require.Eventually(t, func() bool { return trigger.n.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), trigger.n.Load())
}
