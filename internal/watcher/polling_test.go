package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []FileEvent
}

func (r *recorder) add(e FileEvent) { r.events = append(r.events, e) }

func (r *recorder) ops() map[string]Operation {
	out := make(map[string]Operation, len(r.events))
	for _, e := range r.events {
		out[e.Path] = e.Operation
	}
	return out
}

func newTestPoller(t *testing.T, dir string, exts ...string) (*poller, *recorder) {
	t.Helper()
	rec := &recorder{}
	p := newPoller(dir, time.Hour, newFilter(Options{Extensions: exts}.WithDefaults().Extensions), rec.add)
	baseline, err := p.scan()
	require.NoError(t, err)
	p.state = baseline
	return p, rec
}

func TestPoller_DetectsCreateModifyDelete(t *testing.T) {
	// Given: a root with two logs already present
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.log"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.log"), []byte("a"), 0o644))
	p, rec := newTestPoller(t, dir)

	// When: one is grown, one removed and a third appears
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.log"), []byte("abc"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "gone.log")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.log"), []byte("x"), 0o644))
	require.NoError(t, p.detectChanges())

	// Then: each change is reported once
	assert.Equal(t, map[string]Operation{
		"keep.log": OpModify,
		"gone.log": OpDelete,
		"new.log":  OpCreate,
	}, rec.ops())
	for _, e := range rec.events {
		assert.Equal(t, dir, e.Root)
	}
}

func TestPoller_ModTimeChangeIsModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same-size.log")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	p, rec := newTestPoller(t, dir)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	require.NoError(t, p.detectChanges())

	assert.Equal(t, map[string]Operation{"same-size.log": OpModify}, rec.ops())
}

func TestPoller_NoChangesNoEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("a"), 0o644))
	p, rec := newTestPoller(t, dir)

	require.NoError(t, p.detectChanges())
	require.NoError(t, p.detectChanges())

	assert.Empty(t, rec.events)
}

func TestPoller_AppliesFilter(t *testing.T) {
	// Given: a poller that only cares about .log files
	dir := t.TempDir()
	p, rec := newTestPoller(t, dir, ".log")

	// When: files of several kinds appear, some hidden
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".cache"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cache", "c.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dot.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "deep.log"), []byte("x"), 0o644))
	require.NoError(t, p.detectChanges())

	// Then: only the visible log is reported
	assert.Equal(t, map[string]Operation{filepath.Join("nested", "deep.log"): OpCreate}, rec.ops())
}
