package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "seolens-bot/1.0", cfg.Crawler.UserAgent)
	assert.Equal(t, 100, cfg.Crawler.MaxPagesDefault)
	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
crawler:
  max_pages_default: 250
storage:
  provider: local
  local_dir: /tmp/crawler-blobs
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Crawler.MaxPagesDefault)
	assert.Equal(t, "local", cfg.Storage.Provider)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Crawler.MaxDepthDefault)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero max pages", func(c *Config) { c.Crawler.MaxPagesDefault = 0 }},
		{"backoff below one", func(c *Config) { c.Crawler.BackoffMultiplier = 1 }},
		{"min delay above max", func(c *Config) { c.Crawler.MinDelayMs = 60000 }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs" }},
		{"local without dir", func(c *Config) { c.Storage.Provider = "local" }},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
