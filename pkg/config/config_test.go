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
	assert.Equal(t, 3, cfg.Search.DefaultLimit)
	assert.Equal(t, "integer", cfg.Schema["num"])
	assert.Equal(t, "zstd", cfg.Indexer.Compression)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
indexer:
  dataDir: /tmp/segments
  persist: true
  compression: lz4
  commitInterval: 2s
search:
  defaultLimit: 5
  maxResults: 50
schema:
  price: integer
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("SS_LOGGING_LEVEL", "debug")
	t.Setenv("SS_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Indexer.Persist)
	assert.Equal(t, "lz4", cfg.Indexer.Compression)
	assert.Equal(t, 2*time.Second, cfg.Indexer.CommitInterval)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, "integer", cfg.Schema["price"])
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero default limit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"max below default", func(c *Config) { c.Search.MaxResults = 1 }},
		{"bad compression", func(c *Config) { c.Indexer.Compression = "gzip" }},
		{"unknown kind", func(c *Config) { c.Schema["x"] = "float" }},
		{"persist without dir", func(c *Config) { c.Indexer.Persist = true; c.Indexer.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
