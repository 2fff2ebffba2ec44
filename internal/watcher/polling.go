package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

// poller scans one root periodically and reports differences. It is used
// for roots fsnotify cannot watch.
type poller struct {
	root     string
	interval time.Duration
	filter   filter
	emit     func(FileEvent)

	state map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPoller(root string, interval time.Duration, f filter, emit func(FileEvent)) *poller {
	return &poller{
		root:     root,
		interval: interval,
		filter:   f,
		emit:     emit,
		state:    make(map[string]fileSnapshot),
	}
}

// run takes a baseline and then scans every interval until ctx or stop ends.
func (p *poller) run(ctx context.Context, stop <-chan struct{}, errs func(error)) error {
	baseline, err := p.scan()
	if err != nil {
		return fmt.Errorf("initial scan of %s: %w", p.root, err)
	}
	p.state = baseline

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				errs(err)
			}
		}
	}
}

func (p *poller) scan() (map[string]fileSnapshot, error) {
	current := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p.filter.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.filter.accept(rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		current[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return current, err
}

func (p *poller) detectChanges() error {
	current, err := p.scan()
	if err != nil {
		return fmt.Errorf("scan %s: %w", p.root, err)
	}

	now := time.Now()
	for rel, snap := range current {
		prev, existed := p.state[rel]
		switch {
		case !existed:
			p.emit(FileEvent{Root: p.root, Path: rel, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			p.emit(FileEvent{Root: p.root, Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel := range p.state {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Root: p.root, Path: rel, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return nil
}
