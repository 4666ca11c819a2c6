package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "GEMINI_API_KEY", "ALLOWED_ORIGINS", "PORT", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"MAX_CHUNK_SIZE", "COLLECTION_NAME", "CACHE_TTL_SECONDS", "DEBUG", "LLM_MODEL")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, "documents", cfg.CollectionName)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, defaultAllowedOrigins, cfg.AllowedOrigins)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "none", cfg.ActiveLLMProvider())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "abc")
	t.Setenv("PORT", "9090")
	t.Setenv("CHUNK_SIZE", "300")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("DEBUG", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 300, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "gemini", cfg.ActiveLLMProvider())
}

func TestLoadConfigRejectsOverlapNotSmallerThanSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "CHUNK_OVERLAP")
}

func TestValidate(t *testing.T) {
	base := Config{ChunkSize: 100, ChunkOverlap: 10, MaxChunkSize: 200, MaxFileSize: 1}
	require.NoError(t, base.Validate())

	tooBig := base
	tooBig.ChunkSize = 500
	assert.ErrorContains(t, tooBig.Validate(), "MAX_CHUNK_SIZE")

	zero := base
	zero.ChunkSize = 0
	assert.Error(t, zero.Validate())

	negative := base
	negative.ChunkOverlap = -1
	assert.Error(t, negative.Validate())
}

func TestActiveLLMProvider(t *testing.T) {
	cfg := Config{GeminiAPIKey: placeholderAPIKey, LLMModel: "gemini-1.5-flash-latest"}
	assert.False(t, cfg.HasValidAPIKey())
	assert.Equal(t, "none", cfg.ActiveLLMProvider())

	cfg.GeminiAPIKey = "real"
	assert.Equal(t, "gemini", cfg.ActiveLLMProvider())

	cfg.LLMModel = "gpt-3.5-turbo"
	assert.Equal(t, "none", cfg.ActiveLLMProvider())
}
