package search

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/fixrecall/internal/config"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

// NewRerankerFromConfig builds the reranker described by cfg. An HTTP scorer
// that fails its health check does not fail startup: the reranker is created
// in degraded mode and every request falls back to fused order.
func NewRerankerFromConfig(ctx context.Context, cfg config.RerankerConfig, breaker *fixerrors.CircuitBreaker) *Reranker {
	opts := RerankerOptions{
		Enabled: cfg.Enabled,
		TopN:    cfg.TopN,
		KeepTop: cfg.KeepTop,
		Timeout: cfg.Timeout,
		Breaker: breaker,
	}
	if !cfg.Enabled {
		return NewReranker(NoOpScorer{}, opts)
	}
	if cfg.Endpoint == "" {
		return NewReranker(NewOverlapScorer(), opts)
	}

	scorer, err := NewHTTPScorer(ctx, HTTPScorerConfig{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		slog.Warn("reranker_init_failed",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("error", err.Error()))
		opts.InitErr = err
		return NewReranker(nil, opts)
	}
	return NewReranker(scorer, opts)
}

// WeightsFromConfig converts the fusion config section.
func WeightsFromConfig(cfg config.FusionConfig) Weights {
	return Weights{Lexical: cfg.LexicalWeight, Dense: cfg.DenseWeight}
}

// FuserFromConfig builds a fuser from the fusion config section.
func FuserFromConfig(cfg config.FusionConfig) *Fuser {
	f := NewFuser()
	if cfg.ReputationStep > 0 {
		f.Step = cfg.ReputationStep
	}
	if cfg.ReputationCap > 0 {
		f.Cap = cfg.ReputationCap
	}
	return f
}
