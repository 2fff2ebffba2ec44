package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/Aman-CERP/fixrecall/internal/config"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

// Default Ollama settings.
const (
	DefaultHost              = "http://localhost:11434"
	DefaultModel             = "llama3"
	DefaultGenerationTimeout = 120 * time.Second
	DefaultEvaluationTimeout = 60 * time.Second
)

// Generator writes an answer for a question given retrieved context.
type Generator interface {
	Generate(ctx context.Context, question string, fragments []string) (string, error)
	ModelName() string
	Available(ctx context.Context) bool
}

// Scores are the judge's quality metrics, each in [0,1].
type Scores struct {
	Faithfulness float64 `json:"faithfulness"`
	Relevancy    float64 `json:"relevancy"`
}

// Evaluator grades an answer against the question and context.
type Evaluator interface {
	Evaluate(ctx context.Context, question, answer string, fragments []string) (*Scores, error)
	ModelName() string
}

// OllamaConfig configures one Ollama-backed model.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

func (c OllamaConfig) withDefaults(timeout time.Duration) OllamaConfig {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = timeout
	}
	return c
}

// client wraps a langchaingo Ollama model with a per-call deadline.
type client struct {
	cfg   OllamaConfig
	model llms.Model
	http  *http.Client
}

func newClient(cfg OllamaConfig, format string) (*client, error) {
	if u, err := url.Parse(cfg.Host); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fixerrors.ConfigError(fmt.Sprintf("invalid ollama host %q", cfg.Host), err).
			WithSuggestion("Use a URL such as " + DefaultHost)
	}
	httpClient := &http.Client{}
	opts := []ollama.Option{
		ollama.WithServerURL(cfg.Host),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(httpClient),
	}
	if format != "" {
		opts = append(opts, ollama.WithFormat(format))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &client{cfg: cfg, model: model, http: httpClient}, nil
}

func (c *client) complete(ctx context.Context, prompt string) (string, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(callCtx, c.model, prompt, llms.WithTemperature(0))
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", elapsed, fmt.Errorf("model %s timed out after %s: %w", c.cfg.Model, c.cfg.Timeout, err)
		}
		return "", elapsed, err
	}
	return out, elapsed, nil
}

// available asks Ollama whether the model is installed.
func (c *client) available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.Split(strings.ToLower(c.cfg.Model), ":")[0]
	for _, m := range tags.Models {
		if strings.Split(strings.ToLower(m.Name), ":")[0] == want {
			return true
		}
	}
	return false
}

// OllamaGenerator answers with the QA-engineer prompt.
type OllamaGenerator struct {
	c *client
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator. It does not contact Ollama.
func NewOllamaGenerator(cfg OllamaConfig) (*OllamaGenerator, error) {
	c, err := newClient(cfg.withDefaults(DefaultGenerationTimeout), "")
	if err != nil {
		return nil, err
	}
	return &OllamaGenerator{c: c}, nil
}

// NewGeneratorFromConfig creates the generator described by cfg.
func NewGeneratorFromConfig(cfg config.GenerationConfig) (*OllamaGenerator, error) {
	return NewOllamaGenerator(OllamaConfig{Host: cfg.Host, Model: cfg.Model, Timeout: cfg.Timeout})
}

// Generate returns the model's answer. Every failure, including a timeout
// or an empty answer, is an ErrGenerationFailure.
func (g *OllamaGenerator) Generate(ctx context.Context, question string, fragments []string) (string, error) {
	prompt, err := BuildAnswerPrompt(question, fragments)
	if err != nil {
		return "", fixerrors.GenerationFailure("failed to render prompt", err)
	}

	answer, elapsed, err := g.c.complete(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fixerrors.GenerationFailure("answer generation failed", err).
			WithDetail("model", g.c.cfg.Model).
			WithSuggestion("check that Ollama is running and the model is pulled: ollama pull " + g.c.cfg.Model)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fixerrors.GenerationFailure("model returned an empty answer", nil).
			WithDetail("model", g.c.cfg.Model)
	}

	slog.Debug("generation_timing",
		slog.String("model", g.c.cfg.Model),
		slog.Int("fragments", len(fragments)),
		slog.Duration("duration", elapsed))
	return answer, nil
}

// ModelName returns the configured model.
func (g *OllamaGenerator) ModelName() string { return g.c.cfg.Model }

// Available reports whether Ollama answers and has the model.
func (g *OllamaGenerator) Available(ctx context.Context) bool { return g.c.available(ctx) }

// Judge scores answers with an LLM prompted to return JSON.
type Judge struct {
	c *client
}

var _ Evaluator = (*Judge)(nil)

// NewJudge creates an evaluator. It does not contact Ollama.
func NewJudge(cfg OllamaConfig) (*Judge, error) {
	c, err := newClient(cfg.withDefaults(DefaultEvaluationTimeout), "json")
	if err != nil {
		return nil, err
	}
	return &Judge{c: c}, nil
}

// NewJudgeFromConfig returns nil when evaluation is disabled.
func NewJudgeFromConfig(cfg config.EvaluationConfig) (*Judge, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return NewJudge(OllamaConfig{Host: cfg.Host, Model: cfg.Model, Timeout: cfg.Timeout})
}

// Evaluate returns faithfulness and relevancy. A failed call or a reply that
// is not valid JSON with both metrics in [0,1] is an ErrEvaluationFailure.
func (j *Judge) Evaluate(ctx context.Context, question, answer string, fragments []string) (*Scores, error) {
	prompt, err := BuildJudgePrompt(question, answer, fragments)
	if err != nil {
		return nil, fixerrors.EvaluationFailure("failed to render judge prompt", err)
	}

	raw, elapsed, err := j.c.complete(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fixerrors.EvaluationFailure("evaluation call failed", err).
			WithDetail("model", j.c.cfg.Model)
	}

	scores, err := ParseScores(raw)
	if err != nil {
		return nil, fixerrors.EvaluationFailure("judge reply was not usable", err).
			WithDetail("model", j.c.cfg.Model)
	}

	slog.Debug("evaluation_timing",
		slog.String("model", j.c.cfg.Model),
		slog.Float64("faithfulness", scores.Faithfulness),
		slog.Float64("relevancy", scores.Relevancy),
		slog.Duration("duration", elapsed))
	return scores, nil
}

// ModelName returns the configured judge model.
func (j *Judge) ModelName() string { return j.c.cfg.Model }

// Available reports whether Ollama answers and has the judge model.
func (j *Judge) Available(ctx context.Context) bool { return j.c.available(ctx) }

// ParseScores extracts the first JSON object in raw and validates it.
func ParseScores(raw string) (*Scores, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in %q", truncate(raw, 80))
	}

	var payload struct {
		Faithfulness *float64 `json:"faithfulness"`
		Relevancy    *float64 `json:"relevancy"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if payload.Faithfulness == nil || payload.Relevancy == nil {
		return nil, fmt.Errorf("scores must include faithfulness and relevancy")
	}
	for name, v := range map[string]float64{"faithfulness": *payload.Faithfulness, "relevancy": *payload.Relevancy} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%s %.3f is outside [0,1]", name, v)
		}
	}
	return &Scores{Faithfulness: *payload.Faithfulness, Relevancy: *payload.Relevancy}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
