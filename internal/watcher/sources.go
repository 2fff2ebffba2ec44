package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches several source directories and emits debounced batches.
type Watcher struct {
	opts      Options
	filter    filter
	debouncer *Debouncer

	fsw    *fsnotify.Watcher // nil when every root is polled
	events chan []FileEvent
	errors chan error
	stopCh chan struct{}

	mu        sync.RWMutex
	roots     []string
	polled    []string
	stopped   bool
	dropped   atomic.Uint64
	pollersWG sync.WaitGroup
}

// New creates a watcher. It falls back to polling for every root if
// fsnotify cannot be initialized.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	w := &Watcher{
		opts:      opts,
		filter:    newFilter(opts.Extensions),
		debouncer: NewDebouncer(opts.Debounce),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Start watches roots until ctx is cancelled or Stop is called. Missing
// roots are created so a fresh install can be watched before the first file
// lands.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	if len(roots) == 0 {
		return errors.New("no directories to watch")
	}

	go w.forward(ctx)

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", root, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", abs, err)
		}

		w.mu.Lock()
		w.roots = append(w.roots, abs)
		w.mu.Unlock()

		if w.fsw != nil {
			err := w.addRecursive(abs)
			if err == nil {
				continue
			}
			slog.Warn("fsnotify_add_failed_polling",
				slog.String("root", abs),
				slog.String("error", err.Error()))
		}
		w.startPoller(ctx, abs)
	}

	slog.Info("watch_started",
		slog.Any("roots", w.Roots()),
		slog.Any("polled", w.Polled()),
		slog.Duration("debounce", w.opts.Debounce))

	if w.fsw == nil {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) startPoller(ctx context.Context, root string) {
	w.mu.Lock()
	w.polled = append(w.polled, root)
	w.mu.Unlock()

	p := newPoller(root, w.opts.PollInterval, w.filter, w.debouncer.Add)
	w.pollersWG.Add(1)
	go func() {
		defer w.pollersWG.Done()
		if err := p.run(ctx, w.stopCh, w.emitError); err != nil && !errors.Is(err, context.Canceled) {
			w.emitError(err)
		}
	}()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if w.filter.skipDir(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	root := w.rootOf(ev.Name)
	if root == "" {
		return
	}
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir && !w.filter.skipDir(rel) {
			if err := w.addRecursive(ev.Name); err != nil {
				w.emitError(err)
			}
			w.addExisting(root, ev.Name)
			return
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	if !w.filter.accept(rel, isDir) {
		return
	}
	w.debouncer.Add(FileEvent{Root: root, Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// addExisting reports files already present in a directory that appeared
// before its watch was registered.
func (w *Watcher) addExisting(root, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || !w.filter.accept(rel, false) {
			return nil
		}
		w.debouncer.Add(FileEvent{Root: root, Path: rel, Operation: OpCreate, Timestamp: time.Now()})
		return nil
	})
}

// rootOf returns the longest watched root containing path.
func (w *Watcher) rootOf(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	best := ""
	for _, r := range w.roots {
		if (path == r || strings.HasPrefix(path, r+string(filepath.Separator))) && len(r) > len(best) {
			best = r
		}
	}
	return best
}

func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitBatch(batch)
		}
	}
}

// emitBatch holds the read lock across the send so Stop cannot close the
// channel underneath it.
func (w *Watcher) emitBatch(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("watch_buffer_full",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped_batches", n))
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop releases resources and closes both channels. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.pollersWG.Wait()

	w.mu.Lock()
	close(w.events)
	close(w.errors)
	w.mu.Unlock()
	return nil
}

// Events returns debounced batches. Closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watcher errors. Closed by Stop.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Roots returns the absolute directories being watched.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.roots...)
}

// Polled returns the roots served by polling instead of fsnotify.
func (w *Watcher) Polled() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.polled...)
}

// DroppedBatches returns how many batches were lost to a full buffer.
func (w *Watcher) DroppedBatches() uint64 { return w.dropped.Load() }
