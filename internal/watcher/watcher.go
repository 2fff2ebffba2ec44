// Package watcher reports changes to the local incident directories so the
// corpus can be reindexed automatically.
//
// fsnotify is the primary mechanism; a root that fsnotify cannot watch
// (network mounts, some container volumes) falls back to polling. Events are
// filtered by file extension and debounced into batches, so an editor save
// or a log rotation produces one reindex rather than dozens.
package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change under a watched root.
type FileEvent struct {
	// Root is the watched directory the event belongs to.
	Root string
	// Path is relative to Root.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// key identifies the file across roots.
func (e FileEvent) key() string { return filepath.Join(e.Root, e.Path) }

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the watcher waits for quiet before emitting a batch.
	Debounce time.Duration

	// PollInterval is the scan period for roots fsnotify cannot watch.
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	EventBufferSize int

	// Extensions limits events to these file types. Empty accepts every file.
	Extensions []string

	// ForcePolling skips fsnotify entirely.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:        500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 16,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = defaults.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	exts := make([]string, 0, len(o.Extensions))
	for _, e := range o.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	o.Extensions = exts
	return o
}

// filter decides which paths are worth a reindex.
type filter struct {
	extensions map[string]struct{}
}

func newFilter(extensions []string) filter {
	f := filter{}
	if len(extensions) > 0 {
		f.extensions = make(map[string]struct{}, len(extensions))
		for _, e := range extensions {
			f.extensions[e] = struct{}{}
		}
	}
	return f
}

// skipDir reports whether a directory and everything below it is ignored.
func (f filter) skipDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	return strings.HasPrefix(filepath.Base(rel), ".")
}

// accept reports whether a file event should reach the debouncer.
// Deleted files cannot be stat'ed, so directories are recognized by isDir only.
func (f filter) accept(rel string, isDir bool) bool {
	if rel == "." || rel == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	if isDir {
		return false
	}
	if f.extensions == nil {
		return true
	}
	_, ok := f.extensions[strings.ToLower(filepath.Ext(rel))]
	return ok
}
