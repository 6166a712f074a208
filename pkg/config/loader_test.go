package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
database:
  url: postgres://localhost:5432/evalcore
providers:
  providers:
    - name: openai
      kind: openai
      enabled: true
      max_parallel_requests: 4
      requests_per_minute: 60
      models:
        - id: gpt-4o
          api_name: gpt-4o-2024-08-06
queue:
  poll_interval: 2s
defaults:
  sample_percentage: 50
  priority: HIGH
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "evalcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MergesUserOverBuiltinDefaults(t *testing.T) {
	path := writeTestConfig(t, testYAML)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/evalcore", cfg.Database.URL)
	assert.Len(t, cfg.Providers.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers.Providers[0].Name)
	assert.Equal(t, 60, cfg.Providers.CacheTTLSeconds)
	assert.Equal(t, 2e9, float64(cfg.Queue.PollInterval))
	// GracefulShutdownTimeout was never set by the user, so the built-in
	// default survives the mergo override merge.
	assert.Equal(t, DefaultQueueConfig().GracefulShutdownTimeout, cfg.Queue.GracefulShutdownTimeout)
	assert.Equal(t, 50, cfg.Defaults.SamplePercentage)
	assert.Equal(t, "HIGH", cfg.Defaults.Priority)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("EVALCORE_TEST_DB_URL", "postgres://env-resolved/db")
	path := writeTestConfig(t, "database:\n  url: ${EVALCORE_TEST_DB_URL}\n")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-resolved/db", cfg.Database.URL)
}

func TestLoad_RejectsInvalidProvider(t *testing.T) {
	path := writeTestConfig(t, `
database:
  url: postgres://localhost/db
providers:
  providers:
    - name: openai
      kind: openai
      max_parallel_requests: 0
      requests_per_minute: 60
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}
