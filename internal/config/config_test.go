package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "./data/testcraft.db", cfg.DBPath)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.SafetyModel)
	assert.Equal(t, 30*time.Second, cfg.LLM.GateTimeout)
	assert.Equal(t, 5*time.Minute, cfg.LLM.GenerateTimeout)
	assert.Equal(t, 2*time.Minute, cfg.LLM.ReviewTimeout)
	assert.Equal(t, 2, cfg.Abuse.BlockThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Abuse.BlockDuration)
	assert.Equal(t, 500, cfg.Abuse.SampleLimit)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 10, cfg.Limits.MaxUploadFiles)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("FRONTEND_URL", "https://testcraft.example.com")
	t.Setenv("ABUSE_BLOCK_DURATION", "12h")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "3")
	t.Setenv("LLM_GATE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Abuse.BlockDuration)
	assert.Equal(t, 3, cfg.Limits.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, cfg.LLM.GateTimeout, "unparsable values fall back")
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://testcraft.example.com"}, cfg.AllowedOrigins())
}

func TestLoadAPIKeyAlias(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_API", "legacy")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.GoogleAPIKey)

	t.Setenv("GOOGLE_API", "")
	_, err = Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"no api key", func(c *Config) { c.GoogleAPIKey = "" }},
		{"zero threshold", func(c *Config) { c.Abuse.BlockThreshold = 0 }},
		{"negative timeout", func(c *Config) { c.LLM.ReviewTimeout = -time.Second }},
		{"zero rate", func(c *Config) { c.Limits.RateLimitPerMinute = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
