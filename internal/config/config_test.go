package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusbot/internal/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: \"9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "polling", cfg.Telegram.Mode)
	assert.EqualValues(t, 5<<20, cfg.Telegram.MaxUploadBytes)
	assert.Equal(t, 30*time.Second, cfg.Generation.RequestTimeout)
	assert.True(t, cfg.FallbackEnabled())
	assert.Equal(t, "./data/train.jsonl", cfg.Corpus.Path)
	assert.Equal(t, "./data/counter.txt", cfg.Corpus.CounterPath)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 100, cfg.Search.ChunkWords)
	assert.Equal(t, 10*time.Minute, cfg.Locks.StaleAfter)
}

func TestLoadConfigProvidersAndEnv(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "secret")
	t.Setenv("TEST_BOT_TOKEN", "123:abc")

	cfg, err := LoadConfig(writeConfig(t, `
telegram:
  token: ${TEST_BOT_TOKEN}
generation:
  request_timeout: 2m
fallback:
  enabled: false
providers:
  - type: groq
    api_key: ${TEST_GROQ_KEY}
    requests_per_minute: 30
  - type: webchat
    name: deepai
    base_url: https://example.org/chat
    webchat:
      encoding: form
      prompt_field: text
      response_field: output
`))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, llm.MaxRequestTimeout, cfg.Generation.RequestTimeout)
	assert.False(t, cfg.FallbackEnabled())

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "secret", cfg.Providers[0].APIKey)
	assert.Equal(t, 30, cfg.Providers[0].RequestsPerMinute)
	assert.Equal(t, "deepai", cfg.Providers[1].DisplayName())
	assert.Equal(t, "text", cfg.Providers[1].WebChat.PromptField)

	chain := cfg.ChainConfig()
	assert.False(t, chain.FallbackEnabled)
	assert.Len(t, chain.Providers, 2)
}

func TestLoadConfigValidation(t *testing.T) {
	bad := map[string]string{
		"unknown provider": "providers:\n  - type: magic\n",
		"webchat no url":   "providers:\n  - type: webchat\n",
		"webhook no url":   "telegram:\n  mode: webhook\n",
		"unknown db":       "database:\n  type: mongo\n",
		"postgres no url":  "database:\n  type: postgres\n",
	}
	for name, body := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
