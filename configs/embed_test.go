package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fixrecall/internal/config"
)

func TestProjectConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given: the template written as a project config
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".fixrecall.yaml"), []byte(ProjectConfigTemplate), 0o644))

	// When
	cfg, err := config.Load(dir)

	// Then: it loads, validates and equals the defaults
	require.NoError(t, err)
	want := config.NewConfig()
	assert.Equal(t, want.Fusion, cfg.Fusion)
	assert.Equal(t, want.Reranker, cfg.Reranker)
	assert.Equal(t, want.Embeddings, cfg.Embeddings)
	assert.Equal(t, want.Generation, cfg.Generation)
	assert.Equal(t, want.Evaluation, cfg.Evaluation)
	assert.Equal(t, want.Watch, cfg.Watch)
	assert.Equal(t, want.Sources.ChunkSize, cfg.Sources.ChunkSize)
	require.Len(t, cfg.Sources.Local, 1)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Sources.Local[0].Path)
	assert.Empty(t, cfg.Sources.IssueTrackers)
}
