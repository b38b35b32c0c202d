package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "stub", cfg.Generator.Backend)
	assert.Equal(t, 60*time.Minute, cfg.Chat.SessionTTL)
	assert.Equal(t, "https://api.coingecko.com/api/v3", cfg.Market.BaseURL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("GENERATION_TIMEOUT", "5")
	t.Setenv("MAX_SESSIONS", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://agora.example, https://admin.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.Chat.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.Chat.GenerationTimeout)
	assert.Equal(t, 3, cfg.Chat.MaxSessions)
	assert.Equal(t, []string{"https://agora.example", "https://admin.example"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_SESSIONS", "lots")
	t.Setenv("SESSION_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Chat.MaxSessions)
	assert.Equal(t, 60*time.Minute, cfg.Chat.SessionTTL)
}

func TestLoad_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("GENERATOR_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("GENERATOR_BACKEND", "llama")

	_, err := Load()
	assert.Error(t, err)
}
