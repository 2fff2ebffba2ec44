package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/config"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

type chatRequest struct {
	Model    string `json:"model"`
	Format   string `json:"format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// ollamaServer answers /api/chat with reply and /api/tags with llama3.
func ollamaServer(t *testing.T, reply func(req chatRequest) (int, string)) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest"}]}`))
		case "/api/chat":
			var req chatRequest
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			last.Store(req)
			status, content := reply(req)
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"model failed"}`))
				return
			}
			body, _ := json.Marshal(map[string]any{
				"model":      req.Model,
				"created_at": time.Now().UTC().Format(time.RFC3339Nano),
				"message":    map[string]string{"role": "assistant", "content": content},
				"done":       true,
			})
			_, _ = w.Write(append(body, '\n'))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestGenerator_SendsQAPromptWithContext(t *testing.T) {
	// Given: an Ollama that answers with a fix
	srv, last := ollamaServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, "  Add a null check before token refresh.  "
	})
	gen, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "llama3"})
	require.NoError(t, err)

	// When
	answer, err := gen.Generate(context.Background(), "NPE in AuthService.login",
		[]string{"Fixed NPE by adding null check", "NullPointerException in AuthService"})

	// Then: the answer is trimmed and the prompt carries both fragments and the question
	require.NoError(t, err)
	assert.Equal(t, "Add a null check before token refresh.", answer)

	req := last.Load().(chatRequest)
	assert.Equal(t, "llama3", req.Model)
	require.NotEmpty(t, req.Messages)
	prompt := req.Messages[len(req.Messages)-1].Content
	assert.Contains(t, prompt, "[1] Fixed NPE by adding null check")
	assert.Contains(t, prompt, "[2] NullPointerException in AuthService")
	assert.Contains(t, prompt, "NEW ERROR TO ANALYZE:\nNPE in AuthService.login")
}

func TestGenerator_ServerErrorIsGenerationFailure(t *testing.T) {
	srv, _ := ollamaServer(t, func(chatRequest) (int, string) {
		return http.StatusInternalServerError, ""
	})
	gen, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "boom", nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, fixerrors.ErrGenerationFailure))
	assert.True(t, fixerrors.IsFatal(err))
}

func TestGenerator_EmptyAnswerIsGenerationFailure(t *testing.T) {
	srv, _ := ollamaServer(t, func(chatRequest) (int, string) { return http.StatusOK, "   " })
	gen, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "boom", nil)

	assert.True(t, errors.Is(err, fixerrors.ErrGenerationFailure))
}

func TestGenerator_Timeout(t *testing.T) {
	// Given: a model slower than the configured timeout
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gen, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	// When
	start := time.Now()
	_, err = gen.Generate(context.Background(), "slow", nil)

	// Then: the call gives up at its own deadline
	require.Error(t, err)
	assert.True(t, errors.Is(err, fixerrors.ErrGenerationFailure))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGenerator_Available(t *testing.T) {
	srv, _ := ollamaServer(t, func(chatRequest) (int, string) { return http.StatusOK, "" })

	present, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "llama3"})
	require.NoError(t, err)
	missing, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "mistral"})
	require.NoError(t, err)

	assert.True(t, present.Available(context.Background()))
	assert.False(t, missing.Available(context.Background()))
}

func TestJudge_ParsesScoresAndRequestsJSON(t *testing.T) {
	srv, last := ollamaServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, `{"faithfulness": 0.82, "relevancy": 0.9}`
	})
	judge, err := NewJudge(OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	scores, err := judge.Evaluate(context.Background(), "NPE", "add a null check", []string{"Fixed NPE"})

	require.NoError(t, err)
	assert.InDelta(t, 0.82, scores.Faithfulness, 1e-9)
	assert.InDelta(t, 0.9, scores.Relevancy, 1e-9)
	assert.Equal(t, "json", last.Load().(chatRequest).Format)
}

func TestJudge_UnusableReplyIsEvaluationFailure(t *testing.T) {
	srv, _ := ollamaServer(t, func(chatRequest) (int, string) { return http.StatusOK, "looks good to me" })
	judge, err := NewJudge(OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	_, err = judge.Evaluate(context.Background(), "q", "a", nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, fixerrors.ErrEvaluationFailure))
	assert.False(t, fixerrors.IsFatal(err))
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Scores
		wantErr bool
	}{
		{"plain", `{"faithfulness":1,"relevancy":0}`, &Scores{Faithfulness: 1, Relevancy: 0}, false},
		{"wrapped in prose", "Sure!\n{\"faithfulness\": 0.5, \"relevancy\": 0.25}\nDone.", &Scores{Faithfulness: 0.5, Relevancy: 0.25}, false},
		{"missing metric", `{"faithfulness":0.5}`, nil, true},
		{"out of range", `{"faithfulness":1.5,"relevancy":0.2}`, nil, true},
		{"negative", `{"faithfulness":0.5,"relevancy":-0.1}`, nil, true},
		{"no json", `great answer`, nil, true},
		{"broken json", `{"faithfulness": }`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScores(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewGeneratorFromConfig_InvalidHostIsConfigError(t *testing.T) {
	for _, host := range []string{"localhost:11434", "http://bad host:%zz", "://missing-scheme"} {
		t.Run(host, func(t *testing.T) {
			gen, err := NewGeneratorFromConfig(config.GenerationConfig{Host: host, Model: "llama3"})

			assert.Nil(t, gen)
			assert.Equal(t, fixerrors.CategoryConfig, fixerrors.GetCategory(err))
		})
	}
}

func TestNewJudgeFromConfig_Disabled(t *testing.T) {
	judge, err := NewJudgeFromConfig(config.EvaluationConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, judge)
}

func TestBuildAnswerPrompt_NoContext(t *testing.T) {
	prompt, err := BuildAnswerPrompt("disk full", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "no related incidents were found")
	assert.True(t, strings.Contains(prompt, "suggest concrete investigation steps"))
}

func TestBuildAnswerPrompt_TruncatesLongFragments(t *testing.T) {
	long := strings.Repeat("x", maxContextChars+500)
	prompt, err := BuildAnswerPrompt("q", []string{long})
	require.NoError(t, err)
	assert.NotContains(t, prompt, long)
	assert.Contains(t, prompt, strings.Repeat("x", maxContextChars)+"...")
}

func TestBuildAnswerPrompt_TruncatesOnRuneBoundary(t *testing.T) {
	// Given: a fragment whose byte limit falls inside a multi-byte rune
	long := "x" + strings.Repeat("ё", maxContextChars)

	// When
	prompt, err := BuildAnswerPrompt("q", []string{long})

	// Then: the prompt stays valid UTF-8 and the cut keeps whole runes
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, "x"+strings.Repeat("ё", (maxContextChars-1)/2)+"...")
	assert.NotContains(t, prompt, long)
}
