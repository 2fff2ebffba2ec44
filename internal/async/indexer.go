package async

import (
	"context"
	"log/slog"
	"sync"
)

// ReindexFunc performs one complete reindex, reporting into progress.
type ReindexFunc func(ctx context.Context, progress *IndexProgress) error

// Ack is returned by Trigger. It acknowledges the request; it does not wait
// for the reindex to finish.
type Ack struct {
	// Started is true when this trigger began a new run.
	Started bool `json:"started"`
	// Coalesced is true when a run was already in progress; one follow-up run
	// is queued and further triggers fold into it.
	Coalesced bool `json:"coalesced"`
}

// Reindexer runs reindexes one at a time in a background goroutine.
type Reindexer struct {
	fn       ReindexFunc
	progress *IndexProgress

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	pending bool
	idle    chan struct{} // closed while no run is active
	lastErr error
}

// NewReindexer creates a reindexer. Runs use a context derived from ctx.
func NewReindexer(ctx context.Context, fn ReindexFunc) *Reindexer {
	ctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	return &Reindexer{
		fn:       fn,
		progress: NewIndexProgress(),
		ctx:      ctx,
		cancel:   cancel,
		idle:     idle,
	}
}

// Progress returns the progress tracker.
func (r *Reindexer) Progress() *IndexProgress { return r.progress }

// IsRunning returns true while a run is active.
func (r *Reindexer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Trigger requests a reindex and returns immediately.
func (r *Reindexer) Trigger() Ack {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.pending = true
		r.progress.setPending(true)
		return Ack{Coalesced: true}
	}
	r.running = true
	r.idle = make(chan struct{})
	go r.loop()
	return Ack{Started: true}
}

func (r *Reindexer) loop() {
	for {
		r.progress.begin()
		err := r.fn(r.ctx, r.progress)
		if err != nil {
			slog.Warn("reindex_failed", slog.String("error", err.Error()))
			r.progress.SetError(err.Error())
		} else {
			r.progress.SetReady()
		}

		r.mu.Lock()
		r.lastErr = err
		if r.pending && r.ctx.Err() == nil {
			r.pending = false
			r.progress.setPending(false)
			r.mu.Unlock()
			continue
		}
		r.pending = false
		r.progress.setPending(false)
		r.running = false
		close(r.idle)
		r.mu.Unlock()
		return
	}
}

// Wait blocks until no run is active and returns the last run's error.
func (r *Reindexer) Wait(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Close cancels any active run and waits for it to stop.
func (r *Reindexer) Close() error {
	r.cancel()
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	<-idle
	return nil
}
