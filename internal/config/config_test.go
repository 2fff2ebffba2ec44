package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: fusion and reranker defaults are applied
	require.NotNil(t, cfg)
	assert.Equal(t, 0.4, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 0.6, cfg.Fusion.DenseWeight)
	assert.Equal(t, 0.01, cfg.Fusion.ReputationStep)
	assert.Equal(t, 0.05, cfg.Fusion.ReputationCap)
	assert.True(t, cfg.Reranker.Enabled)
	assert.Equal(t, 10, cfg.Reranker.TopN)
	assert.Equal(t, 5, cfg.Reranker.KeepTop)

	assert.Equal(t, "bm25", cfg.Lexical.Backend)
	assert.Equal(t, "hnsw", cfg.Dense.Backend)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 1000, cfg.Sources.ChunkSize)
	assert.Equal(t, 200, cfg.Sources.ChunkOverlap)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Fusion.LexicalWeight)
	require.Len(t, cfg.Sources.Local, 1)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Sources.Local[0].Path)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	// Given: a project config that tunes fusion and durations
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fixrecall.yaml"), `
fusion:
  lexical_weight: 0.7
  dense_weight: 0.3
reranker:
  timeout: 3s
sources:
  local:
    - path: logs
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: file values win and untouched keys keep their defaults
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 0.3, cfg.Fusion.DenseWeight)
	assert.Equal(t, 3*time.Second, cfg.Reranker.Timeout)
	assert.Equal(t, 5, cfg.Reranker.KeepTop)
	require.Len(t, cfg.Sources.Local, 1)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.Sources.Local[0].Path)
	assert.Equal(t, defaultExtensions(), cfg.Sources.Local[0].Extensions)
}

func TestLoad_ExplicitZeroWeightIsKept(t *testing.T) {
	// Given: a config that disables the lexical side entirely
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fixrecall.yml"), `
fusion:
  lexical_weight: 0
  dense_weight: 1
`)

	cfg, err := Load(dir)

	// Then: zero is respected rather than replaced by the default
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 1.0, cfg.Fusion.DenseWeight)
}

func TestLoad_YAMLTakesPrecedenceOverYML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fixrecall.yaml"), "lexical:\n  backend: bleve\n")
	writeFile(t, filepath.Join(dir, ".fixrecall.yml"), "lexical:\n  backend: bm25\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "bleve", cfg.Lexical.Backend)
}

func TestLoad_UserThenProjectThenEnv(t *testing.T) {
	// Given: user config, project config and env var all set the dense backend
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "fixrecall", "config.yaml"), `
dense:
  backend: chromem
generation:
  model: user-model
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fixrecall.yaml"), "generation:\n  model: project-model\n")
	t.Setenv("FIXRECALL_DENSE_BACKEND", "hnsw")

	cfg, err := Load(dir)

	// Then: env beats project beats user
	require.NoError(t, err)
	assert.Equal(t, "hnsw", cfg.Dense.Backend)
	assert.Equal(t, "project-model", cfg.Generation.Model)
}

func TestLoad_EnvWeights(t *testing.T) {
	isolate(t)
	t.Setenv("FIXRECALL_LEXICAL_WEIGHT", "0.5")
	t.Setenv("FIXRECALL_DENSE_WEIGHT", "0.5")
	t.Setenv("FIXRECALL_OLLAMA_HOST", "http://ollama:11434")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 0.5, cfg.Fusion.DenseWeight)
	assert.Equal(t, "http://ollama:11434", cfg.Embeddings.Host)
	assert.Equal(t, "http://ollama:11434", cfg.Generation.Host)
	assert.Equal(t, "http://ollama:11434", cfg.Evaluation.Host)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("FIXRECALL_LEXICAL_WEIGHT", "heavy")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIXRECALL_LEXICAL_WEIGHT")
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".fixrecall.yaml"), "fusion: [not, a, map")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"weights must sum to one", func(c *Config) { c.Fusion.LexicalWeight = 0.5 }, "must equal 1.0"},
		{"weight out of range", func(c *Config) { c.Fusion.DenseWeight = 1.5 }, "dense_weight must be between"},
		{"keep_top at least one", func(c *Config) { c.Reranker.KeepTop = 0 }, "keep_top must be at least 1"},
		{"top_n below keep_top", func(c *Config) { c.Reranker.TopN = 3 }, "top_n (3) must be >="},
		{"zero timeout", func(c *Config) { c.Generation.Timeout = 0 }, "generation.timeout must be positive"},
		{"unknown lexical backend", func(c *Config) { c.Lexical.Backend = "lucene" }, "lexical.backend"},
		{"unknown dense backend", func(c *Config) { c.Dense.Backend = "faiss" }, "dense.backend"},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "mlx" }, "embeddings.provider"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"no sources", func(c *Config) { c.Sources.Local = nil }, "at least one source"},
		{"github source without repo", func(c *Config) {
			c.Sources.IssueTrackers = []GitHubSourceConfig{{Owner: "acme"}}
		}, "owner and repo"},
		{"overlap not below size", func(c *Config) { c.Sources.ChunkOverlap = 1000 }, "chunk_overlap"},
		{"candidate pool", func(c *Config) { c.Fusion.CandidatePool = 0 }, "candidate_pool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Fusion.LexicalWeight = 0.25
	cfg.Fusion.DenseWeight = 0.75
	cfg.Reranker.Timeout = 7 * time.Second

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".fixrecall.yaml")))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.25, loaded.Fusion.LexicalWeight)
	assert.Equal(t, 7*time.Second, loaded.Reranker.Timeout)
}

func TestStoragePaths(t *testing.T) {
	s := StorageConfig{DataDir: "/var/lib/fixrecall"}
	assert.Equal(t, "/var/lib/fixrecall/history.db", s.HistoryPath())
	assert.Equal(t, "/var/lib/fixrecall/reindex.lock", s.LockPath())
	assert.Equal(t, "/var/lib/fixrecall/index.db", s.IndexPath())
	assert.Equal(t, "acme/api", GitHubSourceConfig{Owner: "acme", Repo: "api"}.Name())
}
