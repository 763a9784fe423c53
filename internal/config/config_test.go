package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "openai-compatible", cfg.LLM.Provider)
	assert.Equal(t, "gpt-oss-20b", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Generation.MaxAttempts)
	assert.Equal(t, "500ms", cfg.Generation.BackoffBase)
	assert.Equal(t, "5s", cfg.Generation.BackoffCeiling)
	assert.Equal(t, "file", cfg.Checkpoints.Backend)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Model, cfg.LLM.Model)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alainkit.yaml")
	body := `
llm:
  provider: gemini
  model: gemini-2.0-flash
generation:
  max_concurrency: 3
  max_sections: 8
checkpoints:
  backend: sqlite
  db_path: /tmp/ckpt.db
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Generation.MaxConcurrency)
	assert.Equal(t, 8, cfg.Generation.MaxSections)
	assert.Equal(t, "sqlite", cfg.Checkpoints.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 4, cfg.Generation.MaxAttempts)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALAIN_API_KEY", "secret")
	t.Setenv("ALAIN_MODEL", "gpt-oss-120b")
	t.Setenv("ALAIN_PROVIDER", "gemini")
	t.Setenv("ALAIN_PROMPT_ROOT", "/srv/prompts")
	t.Setenv("ALAIN_MAX_CONCURRENCY", "4")
	t.Setenv("ALAIN_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-oss-120b", cfg.LLM.Model)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "/srv/prompts", cfg.Prompts.OverrideRoot)
	assert.Equal(t, 4, cfg.Generation.MaxConcurrency)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrides_InvalidConcurrencyIgnored(t *testing.T) {
	t.Setenv("ALAIN_MAX_CONCURRENCY", "not-a-number")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Zero(t, cfg.Generation.MaxConcurrency)
}
