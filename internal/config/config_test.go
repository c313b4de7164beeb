package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, "memory://", cfg.Vector.DSN)
	assert.Equal(t, ProviderLocal, cfg.ResolvedLLMProvider())
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeTOML(t, `
[rag]
top_k = 5
chunk_size = 800
skip_keys = ["icon", "banner"]

[vector]
dsn = "chromem:///tmp/kb"
`))
	t.Setenv("RAG_TOP_K", "7")
	t.Setenv("REMOTE_LLM_URL", "http://llm.internal/ask")
	t.Setenv("RAG_SKIP_KEYS", "icon, thumbnail ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RAG.TopK)
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, "chromem:///tmp/kb", cfg.Vector.DSN)
	assert.Equal(t, ProviderRemote, cfg.ResolvedLLMProvider())
	assert.Equal(t, []string{"icon", "thumbnail"}, cfg.RAG.SkipKeys)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"top_k":      func(c *Config) { c.RAG.TopK = 0 },
		"overlap":    func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
		"session":    func(c *Config) { c.Session.Store = "etcd" },
		"provider":   func(c *Config) { c.LLM.Provider = "gpu" },
		"remote_url": func(c *Config) { c.LLM.Provider = ProviderRemote },
		"vector_dsn": func(c *Config) { c.Vector.DSN = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestExplicitProviderWins(t *testing.T) {
	cfg := Default()
	cfg.LLM.RemoteURL = "http://llm.internal/ask"
	cfg.LLM.Provider = "Local"
	assert.Equal(t, ProviderLocal, cfg.ResolvedLLMProvider())
}

func TestBadEnvNumbersKeepFallback(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("CHAT_RATE_LIMIT", "fast")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.InDelta(t, 5.0, cfg.App.ChatRateLimit, 1e-9)
}
