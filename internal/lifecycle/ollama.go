// Package lifecycle gets a local Ollama server ready for fixrecall: it checks
// the server answers and pulls any generation, evaluation or embedding model
// that is missing.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/fixrecall/internal/config"
)

const (
	// DefaultHost is the default Ollama API endpoint
	DefaultHost = "http://localhost:11434"

	// StartupTimeout is how long WaitForReady waits by default
	StartupTimeout = 30 * time.Second

	// ReadyPollInterval is the initial polling interval for WaitForReady
	ReadyPollInterval = 100 * time.Millisecond

	// MaxReadyPollInterval caps exponential backoff
	MaxReadyPollInterval = 2 * time.Second
)

// Requirement is one model a configured stage needs.
type Requirement struct {
	Role  string `json:"role"`
	Host  string `json:"host"`
	Model string `json:"model"`
}

// Requirements lists the Ollama models cfg depends on. Disabled evaluation
// and the static embedder need none.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{{Role: "generation", Host: cfg.Generation.Host, Model: cfg.Generation.Model}}
	if cfg.Evaluation.Enabled {
		reqs = append(reqs, Requirement{Role: "evaluation", Host: cfg.Evaluation.Host, Model: cfg.Evaluation.Model})
	}
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "", "ollama":
		reqs = append(reqs, Requirement{Role: "embeddings", Host: cfg.Embeddings.Host, Model: cfg.Embeddings.Model})
	}
	for i := range reqs {
		if reqs[i].Host == "" {
			reqs[i].Host = DefaultHost
		}
		reqs[i].Host = strings.TrimRight(reqs[i].Host, "/")
	}
	return reqs
}

// PullProgress represents model pull progress
type PullProgress struct {
	Model     string
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64
}

// ModelState is the outcome of Ensure for one requirement.
type ModelState struct {
	Requirement
	Pulled bool `json:"pulled"`
}

// EnsureOpts configures Ensure.
type EnsureOpts struct {
	// AutoPull pulls missing models instead of failing.
	AutoPull bool
	// WaitTimeout waits this long for a server that is not answering yet.
	WaitTimeout time.Duration
	// ProgressFunc receives pull progress updates
	ProgressFunc func(PullProgress)
}

// Client talks to one Ollama server.
type Client struct {
	host   string
	client *http.Client
	pull   *http.Client
}

// NewClient creates a client for host. An empty host uses DefaultHost.
func NewClient(host string) *Client {
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		host:   strings.TrimRight(host, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
		pull:   &http.Client{}, // streaming; bounded by ctx
	}
}

// Host returns the server address.
func (c *Client) Host() string { return c.host }

// IsRunning reports whether the API answers.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// HasModel matches model against installed models by exact name or by the
// name before the tag, so "llama3" matches "llama3:latest".
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return containsModel(models, model), nil
}

func containsModel(models []string, model string) bool {
	want := strings.ToLower(model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range models {
		have := strings.ToLower(m)
		if have == want || strings.Split(have, ":")[0] == wantBase {
			return true
		}
	}
	return false
}

// WaitForReady polls until Ollama answers or timeout passes.
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = StartupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := ReadyPollInterval
	for {
		if c.IsRunning(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return &NotRunningError{Host: c.host}
		case <-time.After(interval):
		}
		interval *= 2
		if interval > MaxReadyPollInterval {
			interval = MaxReadyPollInterval
		}
	}
}

// PullModel streams /api/pull for model, reporting each progress line.
func (c *Client) PullModel(ctx context.Context, model string, progressFunc func(PullProgress)) error {
	body, err := json.Marshal(map[string]any{"name": model, "stream": true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.pull.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var progress struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(line, &progress); err != nil {
			continue
		}
		if progress.Error != "" {
			return fmt.Errorf("pull %s: %s", model, progress.Error)
		}

		if progressFunc != nil {
			percent := 0.0
			if progress.Total > 0 {
				percent = float64(progress.Completed) / float64(progress.Total) * 100
			}
			progressFunc(PullProgress{
				Model:     model,
				Status:    progress.Status,
				Digest:    progress.Digest,
				Total:     progress.Total,
				Completed: progress.Completed,
				Percent:   percent,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}
	return ctx.Err()
}

// Ensure makes every requirement available. Servers are checked once each;
// a server that does not answer fails every requirement on it.
func Ensure(ctx context.Context, reqs []Requirement, opts EnsureOpts) ([]ModelState, error) {
	byHost := make(map[string][]Requirement)
	for _, r := range reqs {
		byHost[r.Host] = append(byHost[r.Host], r)
	}
	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	var states []ModelState
	for _, host := range hosts {
		c := NewClient(host)
		if !c.IsRunning(ctx) {
			if opts.WaitTimeout <= 0 {
				return states, &NotRunningError{Host: host}
			}
			if err := c.WaitForReady(ctx, opts.WaitTimeout); err != nil {
				return states, err
			}
		}

		installed, err := c.ListModels(ctx)
		if err != nil {
			return states, err
		}
		for _, r := range byHost[host] {
			state := ModelState{Requirement: r}
			if !containsModel(installed, r.Model) {
				if !opts.AutoPull {
					return states, &ModelNotFoundError{Model: r.Model, Host: host}
				}
				if err := c.PullModel(ctx, r.Model, opts.ProgressFunc); err != nil {
					return states, fmt.Errorf("failed to pull %s: %w", r.Model, err)
				}
				installed = append(installed, r.Model)
				state.Pulled = true
			}
			states = append(states, state)
		}
	}
	return states, nil
}

// NotRunningError indicates the Ollama API did not answer.
type NotRunningError struct {
	Host string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("ollama is not answering at %s", e.Host)
}

// ModelNotFoundError indicates a required model is not installed.
type ModelNotFoundError struct {
	Model string
	Host  string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s not found on %s", e.Model, e.Host)
}
