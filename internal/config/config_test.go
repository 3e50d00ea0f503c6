package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
llm:
  model: gpt-4o-mini
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Ingestion.Concurrency)
	assert.Equal(t, 2, cfg.Completion.NewlineSuppressChunks)
	assert.Equal(t, 4, cfg.Completion.CharsPerToken)
	assert.Equal(t, "___START_RESPONSE_STREAM___", cfg.Completion.Separator)
}

func TestLoadReadsNestedSections(t *testing.T) {
	path := writeConfig(t, `
ingestion:
  concurrency: 3
  include: ["**/*.md", "*.mdx"]
  refresh_views: [file_sections]
completion:
  i_dont_know_message: "No idea."
  newline_suppress_chunks: 4
quota:
  content_tokens: 1000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Ingestion.Concurrency)
	assert.Equal(t, []string{"**/*.md", "*.mdx"}, cfg.Ingestion.Include)
	assert.Equal(t, []string{"file_sections"}, cfg.Ingestion.RefreshViews)
	assert.Equal(t, "No idea.", cfg.Completion.IDontKnowMessage)
	assert.Equal(t, 4, cfg.Completion.NewlineSuppressChunks)
	assert.Equal(t, int64(1000), cfg.Quota.ContentTokens)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
