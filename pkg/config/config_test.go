package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Search.WindowMultiplier)
	assert.Equal(t, 1.5, cfg.BM25.K1)
	assert.Equal(t, 0.75, cfg.BM25.B)
	assert.Equal(t, 60.0, cfg.Search.RRFK)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, "index.complete", cfg.Kafka.Topics.IndexComplete)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
indexer:
  dataDir: /var/lib/hybrid
search:
  windowMultiplier: 20
  defaultLimit: 10
embedding:
  timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))
	t.Setenv("SP_SERVER_PORT", "9999")
	t.Setenv("SP_BM25_K1", "1.2")
	t.Setenv("SP_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("SP_INDEXER_WORKERS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/hybrid", cfg.Indexer.DataDir)
	assert.Equal(t, 20, cfg.Search.WindowMultiplier)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 2*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 1.2, cfg.BM25.K1)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0, cfg.Indexer.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Indexer.DataDir = "" }},
		{"b above one", func(c *Config) { c.BM25.B = 1.5 }},
		{"zero chunk size", func(c *Config) { c.Chunking.MaxChunkSize = 0 }},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"zero multiplier", func(c *Config) { c.Search.WindowMultiplier = 0 }},
		{"alpha out of range", func(c *Config) { c.Search.DefaultAlpha = 2 }},
		{"non-positive rrf k", func(c *Config) { c.Search.RRFK = 0 }},
		{"max below default", func(c *Config) { c.Search.MaxResults = 1; c.Search.DefaultLimit = 5 }},
		{"unknown corpus source", func(c *Config) { c.Corpus.Source = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}
