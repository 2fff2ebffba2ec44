package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fixrecall configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Dense      DenseConfig      `yaml:"dense" json:"dense"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Evaluation EvaluationConfig `yaml:"evaluation" json:"evaluation"`
	Sources    SourcesConfig    `yaml:"sources" json:"sources"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// FusionConfig configures weighted min-max fusion.
// Weights are configurable via:
//  1. User config (~/.config/fixrecall/config.yaml)
//  2. Project config (.fixrecall.yaml)
//  3. Env vars (FIXRECALL_LEXICAL_WEIGHT, FIXRECALL_DENSE_WEIGHT) - highest priority
type FusionConfig struct {
	// LexicalWeight is the weight of the normalized BM25 score (0.0-1.0).
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	// DenseWeight is the weight of the normalized vector similarity (0.0-1.0).
	// Must sum to 1.0 with LexicalWeight.
	DenseWeight float64 `yaml:"dense_weight" json:"dense_weight"`
	// ReputationStep is the bias contributed by one net point of reputation.
	ReputationStep float64 `yaml:"reputation_step" json:"reputation_step"`
	// ReputationCap bounds the absolute reputation bias.
	ReputationCap float64 `yaml:"reputation_cap" json:"reputation_cap"`
	// CandidatePool is how many results each ranker contributes before fusion.
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool"`
}

// RerankerConfig configures the second-stage pairwise reranker.
type RerankerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// TopN is how many fused candidates are sent to the scorer.
	TopN int `yaml:"top_n" json:"top_n"`
	// KeepTop is how many candidates survive reranking.
	KeepTop int `yaml:"keep_top" json:"keep_top"`
	// Endpoint is the HTTP rerank server. Empty uses the local term-overlap scorer.
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// LexicalConfig selects the lexical index implementation.
type LexicalConfig struct {
	// Backend is "bm25" (default, in-memory Okapi BM25), "bleve" or "sqlite" (FTS5).
	Backend string `yaml:"backend" json:"backend"`
}

// DenseConfig selects the vector index implementation.
type DenseConfig struct {
	// Backend is "hnsw" (default) or "chromem".
	Backend string `yaml:"backend" json:"backend"`
	// Dimensions is the embedding width. 0 means take it from the embedder.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" (default) or "static" (hash embeddings, offline).
	Provider  string        `yaml:"provider" json:"provider"`
	Model     string        `yaml:"model" json:"model"`
	Host      string        `yaml:"host" json:"host"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	Host    string        `yaml:"host" json:"host"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// EvaluationConfig configures the LLM judge that scores answers.
type EvaluationConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Host    string        `yaml:"host" json:"host"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SourcesConfig lists every document source that feeds the corpus.
type SourcesConfig struct {
	Local         []LocalSourceConfig  `yaml:"local" json:"local"`
	IssueTrackers []GitHubSourceConfig `yaml:"issue_trackers" json:"issue_trackers"`
	Wikis         []GitHubSourceConfig `yaml:"wikis" json:"wikis"`
	// ChunkSize and ChunkOverlap control recursive character splitting.
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// LocalSourceConfig is a directory of logs, reports and notes.
type LocalSourceConfig struct {
	Path       string   `yaml:"path" json:"path"`
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// GitHubSourceConfig points at a GitHub repository's issues or wiki.
type GitHubSourceConfig struct {
	Owner string `yaml:"owner" json:"owner"`
	Repo  string `yaml:"repo" json:"repo"`
	// TokenEnv names the environment variable holding the access token.
	TokenEnv string `yaml:"token_env" json:"token_env"`
	// BaseURL overrides the API root (GitHub Enterprise).
	BaseURL string   `yaml:"base_url" json:"base_url"`
	Labels  []string `yaml:"labels" json:"labels"`
	// State filters issues: "open", "closed" or "all".
	State     string `yaml:"state" json:"state"`
	MaxIssues int    `yaml:"max_issues" json:"max_issues"`
	// RequestsPerSecond throttles API calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// Name returns owner/repo.
func (g GitHubSourceConfig) Name() string {
	return g.Owner + "/" + g.Repo
}

// StorageConfig configures where durable state lives.
type StorageConfig struct {
	// DataDir holds history.db, index.db and the reindex lock. Defaults to ~/.fixrecall.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// HistoryPath returns the SQLite file used for history and reputation.
func (s StorageConfig) HistoryPath() string {
	return filepath.Join(s.DataDir, "history.db")
}

// IndexPath returns the SQLite file holding the current index generation snapshot.
func (s StorageConfig) IndexPath() string {
	return filepath.Join(s.DataDir, "index.db")
}

// LockPath returns the reindex lock file.
func (s StorageConfig) LockPath() string {
	return filepath.Join(s.DataDir, "reindex.lock")
}

// WatchConfig configures automatic reindex on local file changes.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LoggingConfig mirrors logging.Config in YAML form.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// NewConfig returns a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Fusion: FusionConfig{
			LexicalWeight:  0.4,
			DenseWeight:    0.6,
			ReputationStep: 0.01,
			ReputationCap:  0.05,
			CandidatePool:  20,
		},
		Reranker: RerankerConfig{
			Enabled: true,
			TopN:    10,
			KeepTop: 5,
			Model:   "bge-reranker-base",
			Timeout: 10 * time.Second,
		},
		Lexical: LexicalConfig{Backend: "bm25"},
		Dense:   DenseConfig{Backend: "hnsw"},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Host:      "http://localhost:11434",
			Timeout:   30 * time.Second,
			BatchSize: 32,
			CacheSize: 1000,
		},
		Generation: GenerationConfig{
			Host:    "http://localhost:11434",
			Model:   "llama3",
			Timeout: 120 * time.Second,
		},
		Evaluation: EvaluationConfig{
			Enabled: true,
			Host:    "http://localhost:11434",
			Model:   "llama3",
			Timeout: 60 * time.Second,
		},
		Sources: SourcesConfig{
			Local:        []LocalSourceConfig{{Path: "data", Extensions: defaultExtensions()}},
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultExtensions() []string {
	return []string{".log", ".txt", ".md", ".json"}
}

// defaultDataDir returns ~/.fixrecall, falling back to the temp directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fixrecall")
	}
	return filepath.Join(home, ".fixrecall")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/fixrecall/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/fixrecall/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fixrecall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fixrecall", "config.yaml")
	}
	return filepath.Join(home, ".config", "fixrecall", "config.yaml")
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/fixrecall/config.yaml)
//  3. Project config (.fixrecall.yaml in dir)
//  4. Environment variables (FIXRECALL_*)
//
// Files are decoded onto the running value, so a key a file leaves out keeps
// the earlier layer's value and a key it sets (even to zero) replaces it.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config from %s: %w", userPath, err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromDir attempts to load .fixrecall.yaml, then .fixrecall.yml.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".fixrecall.yaml", ".fixrecall.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// resolvePaths makes relative local source paths relative to the project dir.
func (c *Config) resolvePaths(dir string) {
	for i := range c.Sources.Local {
		p := c.Sources.Local[i].Path
		if p != "" && !filepath.IsAbs(p) {
			c.Sources.Local[i].Path = filepath.Join(dir, p)
		}
		if len(c.Sources.Local[i].Extensions) == 0 {
			c.Sources.Local[i].Extensions = defaultExtensions()
		}
	}
	if strings.HasPrefix(c.Storage.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.Storage.DataDir = filepath.Join(home, c.Storage.DataDir[2:])
		}
	}
}

// applyEnvOverrides applies FIXRECALL_* environment variables.
func (c *Config) applyEnvOverrides() error {
	floats := map[string]*float64{
		"FIXRECALL_LEXICAL_WEIGHT": &c.Fusion.LexicalWeight,
		"FIXRECALL_DENSE_WEIGHT":   &c.Fusion.DenseWeight,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = f
		}
	}

	strs := map[string]*string{
		"FIXRECALL_OLLAMA_HOST":       &c.Embeddings.Host,
		"FIXRECALL_EMBEDDINGS_MODEL":  &c.Embeddings.Model,
		"FIXRECALL_EMBEDDER":          &c.Embeddings.Provider,
		"FIXRECALL_GENERATION_MODEL":  &c.Generation.Model,
		"FIXRECALL_EVALUATION_MODEL":  &c.Evaluation.Model,
		"FIXRECALL_RERANKER_ENDPOINT": &c.Reranker.Endpoint,
		"FIXRECALL_LEXICAL_BACKEND":   &c.Lexical.Backend,
		"FIXRECALL_DENSE_BACKEND":     &c.Dense.Backend,
		"FIXRECALL_DATA_DIR":          &c.Storage.DataDir,
		"FIXRECALL_LOG_LEVEL":         &c.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// One Ollama host for every stage unless a stage is set explicitly.
	if v := os.Getenv("FIXRECALL_OLLAMA_HOST"); v != "" {
		c.Generation.Host = v
		c.Evaluation.Host = v
	}

	if v := os.Getenv("FIXRECALL_RERANKER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FIXRECALL_RERANKER_ENABLED %q: %w", v, err)
		}
		c.Reranker.Enabled = b
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	f := c.Fusion
	if f.LexicalWeight < 0 || f.LexicalWeight > 1 {
		return fmt.Errorf("fusion.lexical_weight must be between 0 and 1, got %f", f.LexicalWeight)
	}
	if f.DenseWeight < 0 || f.DenseWeight > 1 {
		return fmt.Errorf("fusion.dense_weight must be between 0 and 1, got %f", f.DenseWeight)
	}
	if sum := f.LexicalWeight + f.DenseWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("fusion.lexical_weight + fusion.dense_weight must equal 1.0, got %.2f", sum)
	}
	if f.ReputationStep < 0 || f.ReputationCap < 0 {
		return fmt.Errorf("fusion.reputation_step and fusion.reputation_cap must be non-negative")
	}
	if f.CandidatePool < 1 {
		return fmt.Errorf("fusion.candidate_pool must be at least 1, got %d", f.CandidatePool)
	}

	r := c.Reranker
	if r.KeepTop < 1 {
		return fmt.Errorf("reranker.keep_top must be at least 1, got %d", r.KeepTop)
	}
	if r.TopN < r.KeepTop {
		return fmt.Errorf("reranker.top_n (%d) must be >= reranker.keep_top (%d)", r.TopN, r.KeepTop)
	}

	timeouts := map[string]time.Duration{
		"reranker.timeout":   r.Timeout,
		"embeddings.timeout": c.Embeddings.Timeout,
		"generation.timeout": c.Generation.Timeout,
		"evaluation.timeout": c.Evaluation.Timeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	switch strings.ToLower(c.Lexical.Backend) {
	case "bm25", "bleve", "sqlite":
	default:
		return fmt.Errorf("lexical.backend must be 'bm25', 'bleve' or 'sqlite', got %s", c.Lexical.Backend)
	}
	switch strings.ToLower(c.Dense.Backend) {
	case "hnsw", "chromem":
	default:
		return fmt.Errorf("dense.backend must be 'hnsw' or 'chromem', got %s", c.Dense.Backend)
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	s := c.Sources
	if len(s.Local)+len(s.IssueTrackers)+len(s.Wikis) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for _, gh := range append(append([]GitHubSourceConfig{}, s.IssueTrackers...), s.Wikis...) {
		if gh.Owner == "" || gh.Repo == "" {
			return fmt.Errorf("github sources need owner and repo, got %q", gh.Name())
		}
	}
	if s.ChunkSize <= 0 || s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("sources.chunk_overlap must be in [0, chunk_size), got %d/%d", s.ChunkOverlap, s.ChunkSize)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
