// Package feedback turns user ratings into persistent chunk reputation.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/history"
	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/store"
	"github.com/Aman-CERP/fixrecall/internal/telemetry"
)

// Event is one rating of one chunk.
type Event struct {
	// EventID makes the event idempotent. Empty means a fresh id is generated,
	// so the call is never deduplicated.
	EventID string `json:"event_id"`
	ChunkID string `json:"chunk_id"`
	Delta   int    `json:"delta"`
}

// Outcome reports what an Apply did.
type Outcome struct {
	EventID    string `json:"event_id"`
	ChunkID    string `json:"chunk_id"`
	Applied    bool   `json:"applied"`
	Duplicate  bool   `json:"duplicate"`
	Reputation int    `json:"reputation"`
}

// Generations pins the index generation used to check that a chunk exists.
type Generations interface {
	Acquire() *index.Generation
}

// AnalysisLookup resolves the chunks an analysis used.
type AnalysisLookup interface {
	GetAnalysis(ctx context.Context, id int64) (*history.Record, error)
}

// Adjuster validates feedback and applies it to the reputation store.
// The store provides per-chunk atomicity; the adjuster holds no locks.
type Adjuster struct {
	reputation  store.ReputationStore
	generations Generations
	analyses    AnalysisLookup
	metrics     *telemetry.Metrics
}

// Option configures an Adjuster.
type Option func(*Adjuster)

// WithAnalyses enables ApplyToAnalysis.
func WithAnalyses(a AnalysisLookup) Option {
	return func(adj *Adjuster) { adj.analyses = a }
}

// WithMetrics counts applied, duplicate and rejected events.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(adj *Adjuster) { adj.metrics = m }
}

// NewAdjuster creates an adjuster.
func NewAdjuster(reputation store.ReputationStore, generations Generations, opts ...Option) *Adjuster {
	a := &Adjuster{reputation: reputation, generations: generations}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply adds ev.Delta to the chunk's reputation.
//
// It fails with ErrValidation for a delta other than +1/-1 or an empty chunk
// id, and with ErrChunkNotFound when the current index generation does not
// contain the chunk. Both leave reputation unchanged. A replayed EventID
// returns Duplicate=true and changes nothing.
func (a *Adjuster) Apply(ctx context.Context, ev Event) (*Outcome, error) {
	if err := validate(ev); err != nil {
		a.metrics.IncFeedback("rejected")
		return nil, err
	}

	gen := a.generations.Acquire()
	if gen == nil {
		return nil, fixerrors.InternalError("index is closed", nil)
	}
	exists := gen.Contains(ev.ChunkID)
	gen.Release()
	if !exists {
		a.metrics.IncFeedback("rejected")
		return nil, fixerrors.ChunkNotFound(ev.ChunkID)
	}

	return a.apply(ctx, ev)
}

func (a *Adjuster) apply(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}

	applied, value, err := a.reputation.Apply(ctx, ev.EventID, ev.ChunkID, ev.Delta)
	if err != nil {
		return nil, fixerrors.PersistenceError("failed to apply feedback", err).
			WithDetail("chunk_id", ev.ChunkID)
	}

	out := &Outcome{
		EventID:    ev.EventID,
		ChunkID:    ev.ChunkID,
		Applied:    applied,
		Duplicate:  !applied,
		Reputation: value,
	}
	if applied {
		a.metrics.IncFeedback("applied")
		slog.Info("feedback_applied",
			slog.String("chunk_id", ev.ChunkID),
			slog.Int("delta", ev.Delta),
			slog.Int("reputation", value))
	} else {
		a.metrics.IncFeedback("duplicate")
		slog.Debug("feedback_duplicate", slog.String("event_id", ev.EventID))
	}
	return out, nil
}

// ApplyToAnalysis applies rating to every chunk an analysis used as context.
// Chunk ids are checked against one pinned generation before any write, so a
// missing chunk rejects the whole request. Per-chunk event ids are derived
// from eventID, which makes a replayed analysis rating a no-op.
func (a *Adjuster) ApplyToAnalysis(ctx context.Context, analysisID int64, rating int, eventID string) ([]*Outcome, error) {
	if a.analyses == nil {
		return nil, fixerrors.InternalError("analysis lookup is not configured", nil)
	}
	if err := validateDelta(rating); err != nil {
		a.metrics.IncFeedback("rejected")
		return nil, err
	}

	rec, err := a.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if len(rec.ChunkIDs) == 0 {
		return nil, fixerrors.ValidationError(fmt.Sprintf("analysis %d used no context", analysisID), nil)
	}

	gen := a.generations.Acquire()
	if gen == nil {
		return nil, fixerrors.InternalError("index is closed", nil)
	}
	for _, id := range rec.ChunkIDs {
		if !gen.Contains(id) {
			gen.Release()
			a.metrics.IncFeedback("rejected")
			return nil, fixerrors.ChunkNotFound(id).WithDetail("analysis_id", fmt.Sprint(analysisID))
		}
	}
	gen.Release()

	if eventID == "" {
		eventID = uuid.NewString()
	}
	outcomes := make([]*Outcome, 0, len(rec.ChunkIDs))
	for _, id := range rec.ChunkIDs {
		out, err := a.apply(ctx, Event{EventID: eventID + ":" + id, ChunkID: id, Delta: rating})
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func validate(ev Event) error {
	if strings.TrimSpace(ev.ChunkID) == "" {
		return fixerrors.ValidationError("chunk id is required", nil)
	}
	return validateDelta(ev.Delta)
}

func validateDelta(delta int) error {
	if delta != 1 && delta != -1 {
		return fixerrors.ValidationError(fmt.Sprintf("rating must be +1 or -1, got %d", delta), nil).
			WithSuggestion("use --rating +1 or --rating -1")
	}
	return nil
}
