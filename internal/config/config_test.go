package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreFile, cfg.StoreDriver)
	assert.Equal(t, ProviderOffline, cfg.LLMProvider)
	assert.Equal(t, 2*time.Minute, cfg.GenerationTimeout)
	assert.Equal(t, filepath.Join(dir, "sessions.db"), cfg.SQLitePath)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_MODEL", "gpt-test")
	t.Setenv("GENERATION_TIMEOUT", "45s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.Equal(t, map[string]string{
		"api_key":       "sk-test",
		"timeout":       "45s",
		"default_model": "gpt-test",
	}, cfg.LLMProviderConfig())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{Port: "8080", StoreDriver: StoreMemory, LogLevel: "info", LLMProvider: ProviderOffline, GenerationTimeout: time.Second}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"port":     func(c *Config) { c.Port = "http" },
		"driver":   func(c *Config) { c.StoreDriver = "redis" },
		"level":    func(c *Config) { c.LogLevel = "loud" },
		"timeout":  func(c *Config) { c.GenerationTimeout = 0 },
		"rate":     func(c *Config) { c.RateLimitPerMinute = -1 },
		"provider": func(c *Config) { c.LLMProvider = "openai" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
