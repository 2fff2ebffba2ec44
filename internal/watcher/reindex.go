package watcher

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/fixrecall/internal/async"
)

// Trigger schedules a reindex; async.Reindexer implements it.
type Trigger interface {
	Trigger() async.Ack
}

// AutoReindex triggers a reindex for every batch w emits and logs watcher
// errors. It returns when ctx is cancelled or the watcher stops.
func AutoReindex(ctx context.Context, w *Watcher, t Trigger) {
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			ack := t.Trigger()
			slog.Info("watch_reindex_triggered",
				slog.Int("changes", len(batch)),
				slog.String("first", batch[0].Path),
				slog.Bool("coalesced", ack.Coalesced))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
