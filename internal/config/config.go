// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	UploadDir      string
	GoogleAPIKey   string
	GoogleClientID string
	SessionTTL     time.Duration

	LLM    LLMConfig
	Abuse  AbuseConfig
	Limits LimitsConfig
}

// LLMConfig selects models and per-call deadlines.
type LLMConfig struct {
	Model           string
	SafetyModel     string
	GateTimeout     time.Duration
	GenerateTimeout time.Duration
	ReviewTimeout   time.Duration
}

// AbuseConfig controls violation tracking and blocking.
type AbuseConfig struct {
	BlockThreshold int
	BlockDuration  time.Duration
	SampleLimit    int
}

// LimitsConfig bounds request rates and uploads.
type LimitsConfig struct {
	RateLimitPerMinute int
	MaxUploadBytes     int64
	MaxUploadFiles     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "5000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/testcraft.db"),
		UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
		GoogleAPIKey:   firstNonEmpty(getEnv("GOOGLE_API_KEY", ""), getEnv("GOOGLE_API", "")),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		LLM: LLMConfig{
			Model:           getEnv("LLM_MODEL", "gemini-2.5-flash"),
			SafetyModel:     getEnv("LLM_SAFETY_MODEL", "gemini-2.0-flash"),
			GateTimeout:     getEnvDuration("LLM_GATE_TIMEOUT", 30*time.Second),
			GenerateTimeout: getEnvDuration("LLM_GENERATE_TIMEOUT", 5*time.Minute),
			ReviewTimeout:   getEnvDuration("LLM_REVIEW_TIMEOUT", 2*time.Minute),
		},
		Abuse: AbuseConfig{
			BlockThreshold: getEnvInt("ABUSE_BLOCK_THRESHOLD", 2),
			BlockDuration:  getEnvDuration("ABUSE_BLOCK_DURATION", 48*time.Hour),
			SampleLimit:    getEnvInt("ABUSE_SAMPLE_LIMIT", 500),
		},
		Limits: LimitsConfig{
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
			MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
			MaxUploadFiles:     getEnvInt("MAX_UPLOAD_FILES", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return errors.New("UPLOAD_DIR cannot be empty")
	}
	if c.GoogleAPIKey == "" {
		return errors.New("GOOGLE_API_KEY is required")
	}
	if c.LLM.Model == "" || c.LLM.SafetyModel == "" {
		return errors.New("LLM_MODEL and LLM_SAFETY_MODEL cannot be empty")
	}
	if c.LLM.GateTimeout <= 0 || c.LLM.GenerateTimeout <= 0 || c.LLM.ReviewTimeout <= 0 {
		return errors.New("LLM timeouts must be > 0")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be > 0")
	}
	if c.Abuse.BlockThreshold <= 0 {
		return errors.New("ABUSE_BLOCK_THRESHOLD must be > 0")
	}
	if c.Abuse.BlockDuration <= 0 {
		return errors.New("ABUSE_BLOCK_DURATION must be > 0")
	}
	if c.Abuse.SampleLimit <= 0 {
		return errors.New("ABUSE_SAMPLE_LIMIT must be > 0")
	}
	if c.Limits.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.Limits.MaxUploadBytes <= 0 || c.Limits.MaxUploadFiles <= 0 {
		return errors.New("MAX_UPLOAD_BYTES and MAX_UPLOAD_FILES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins. An unset FRONTEND_URL allows any origin.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
