package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/fixrecall/internal/config"
)

// Provider names accepted in embeddings.provider.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// New builds the configured embedder wrapped in a query cache.
// The Ollama provider checks the server at construction time; callers that want
// to keep working offline fall back to NewStaticEmbedder on error.
func New(ctx context.Context, cfg config.EmbeddingsConfig, dims int) (Embedder, error) {
	var inner Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		o, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: dims,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = o
	case ProviderStatic:
		inner = NewStaticEmbedder(dims)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (valid: ollama, static)", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
