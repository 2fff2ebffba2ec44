package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTP scorer defaults.
const (
	DefaultScorerModel   = "bge-reranker-base"
	DefaultScorerTimeout = 10 * time.Second
)

// HTTPScorerConfig configures a cross-encoder served over HTTP.
type HTTPScorerConfig struct {
	// Endpoint is the server root; /health and /rerank are appended.
	Endpoint string

	// Model is passed through to the server.
	Model string

	// Timeout bounds one request (default: 10s)
	Timeout time.Duration

	// SkipHealthCheck skips the startup probe (for testing)
	SkipHealthCheck bool
}

// HTTPScorer calls a cross-encoder rerank server.
//
// The server accepts {query, documents, model} on POST /rerank and answers
// {results: [{index, score}]}, where index refers to the request's documents.
type HTTPScorer struct {
	client   *http.Client
	config   HTTPScorerConfig
	endpoint string

	mu     sync.RWMutex
	closed bool
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer and, unless skipped, probes /health.
func NewHTTPScorer(ctx context.Context, cfg HTTPScorerConfig) (*HTTPScorer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultScorerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScorerTimeout
	}

	s := &HTTPScorer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:   cfg,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := s.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("rerank server health check failed: %w", err)
		}
	}

	slog.Debug("http_scorer_created",
		slog.String("endpoint", s.endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return s, nil
}

func (s *HTTPScorer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to rerank server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("rerank server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Score sends every (query, document) pair in one request.
func (s *HTTPScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("scorer is closed")
	}
	if len(documents) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents, Model: s.config.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing document %d", i)
		}
	}

	slog.Debug("rerank_http_timing",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("doc_count", len(documents)),
		slog.Duration("http_request", time.Since(start)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))

	return scores, nil
}

// Name identifies the scorer in logs.
func (s *HTTPScorer) Name() string { return "http:" + s.config.Model }

// Close releases idle connections.
func (s *HTTPScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if transport, ok := s.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
