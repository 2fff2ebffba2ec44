// Package async runs reindexing in the background and tracks its progress.
package async

import (
	"sync"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/index"
)

// IndexingStatus represents the overall reindex state.
type IndexingStatus string

const (
	// StatusIdle indicates no reindex has run yet in this process.
	StatusIdle IndexingStatus = "idle"
	// StatusIndexing indicates a reindex is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates the last reindex completed.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates the last reindex failed.
	StatusError IndexingStatus = "error"
)

// IndexProgressSnapshot is an immutable snapshot of reindex progress.
type IndexProgressSnapshot struct {
	Status         IndexingStatus `json:"status"`
	Stage          string         `json:"stage,omitempty"`
	Done           int            `json:"done"`
	Total          int            `json:"total"`
	ProgressPct    float64        `json:"progress_pct"`
	Runs           int            `json:"runs"`
	Pending        bool           `json:"pending"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// IndexProgress provides thread-safe tracking of reindex progress.
type IndexProgress struct {
	mu sync.RWMutex

	status       IndexingStatus
	stage        index.Stage
	done         int
	total        int
	runs         int
	pending      bool
	startTime    time.Time
	errorMessage string
}

// NewIndexProgress creates an idle progress tracker.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{status: StatusIdle}
}

// begin marks the start of a run.
func (p *IndexProgress) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusIndexing
	p.stage = ""
	p.done, p.total = 0, 0
	p.startTime = time.Now()
	p.errorMessage = ""
}

// Report records the current stage and counts. It matches index.ProgressFunc.
func (p *IndexProgress) Report(stage index.Stage, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.done = done
	p.total = total
}

func (p *IndexProgress) setPending(pending bool) {
	p.mu.Lock()
	p.pending = pending
	p.mu.Unlock()
}

// SetError marks the run as failed.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
	p.runs++
}

// SetReady marks the run as complete.
func (p *IndexProgress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.runs++
}

// IsIndexing returns true while a run is in progress.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns an immutable copy of the current progress state.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = float64(p.done) / float64(p.total) * 100.0
	}
	var elapsed int
	if !p.startTime.IsZero() {
		elapsed = int(time.Since(p.startTime).Seconds())
	}

	return IndexProgressSnapshot{
		Status:         p.status,
		Stage:          string(p.stage),
		Done:           p.done,
		Total:          p.total,
		ProgressPct:    pct,
		Runs:           p.runs,
		Pending:        p.pending,
		ElapsedSeconds: elapsed,
		ErrorMessage:   p.errorMessage,
	}
}
