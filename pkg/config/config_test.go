package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "milvus", cfg.Vector.Backend)
	assert.Equal(t, 10, cfg.Retrieval.DocumentTopK)
	assert.Equal(t, 5, cfg.Retrieval.TagTopK)
	assert.Equal(t, 3, cfg.Retrieval.MaxTagsConsidered)
	assert.Equal(t, "embed", cfg.Retrieval.ScopingPolicy)
	assert.Equal(t, 512, cfg.Chunker.WordsPerChunk)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte("vector:\n  backend: memory\nchunker:\n  wordsPerChunk: 1024\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("PLANTSAGE_LLM_PROVIDER", "anthropic")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Vector.Backend)
	assert.Equal(t, 1024, cfg.Chunker.WordsPerChunk)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoad_RejectsUnsupportedChunkSize(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte("chunker:\n  wordsPerChunk: 300\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PLANTSAGE_RETRIEVAL_SCOPINGPOLICY=filter\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("PLANTSAGE_RETRIEVAL_SCOPINGPOLICY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "filter", cfg.Retrieval.ScopingPolicy)
}
