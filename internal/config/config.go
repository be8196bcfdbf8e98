// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	CatalogPath     string
	AI              AIConfig
	Quota           QuotaConfig
	Session         SessionConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
	Avatars         AvatarConfig
}

// AIConfig selects and configures the response generator.
type AIConfig struct {
	Provider string // "gemini" or "mock"
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// QuotaConfig selects where conversation counters live.
type QuotaConfig struct {
	Backend   string // "sqlite" or "redis"
	RedisAddr string
}

// SessionConfig controls live session contexts.
type SessionConfig struct {
	IdleTTL          time.Duration
	SweepInterval    time.Duration
	PersistQueueSize int
}

// RateLimitConfig bounds turn submissions per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// AvatarConfig holds the avatar references attached to messages.
type AvatarConfig struct {
	User      string
	Assistant string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/aexy.db"),
		CatalogPath: getEnv("CATALOG_PATH", ""),
		AI: AIConfig{
			Provider: strings.ToLower(getEnv("AI_PROVIDER", "mock")),
			APIKey:   getEnv("GEMINI_API_KEY", ""),
			Model:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout:  getEnvDuration("AI_TIMEOUT", 30*time.Second),
		},
		Quota: QuotaConfig{
			Backend:   strings.ToLower(getEnv("QUOTA_BACKEND", "sqlite")),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Session: SessionConfig{
			IdleTTL:          getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			PersistQueueSize: getEnvInt("PERSIST_QUEUE_SIZE", 256),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000),
		},
		Avatars: AvatarConfig{
			User:      getEnv("USER_AVATAR_URL", "/avatars/learner.png"),
			Assistant: getEnv("TUTOR_AVATAR_URL", "/avatars/tutor.png"),
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
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.AI.Provider {
	case "mock":
	case "gemini":
		if c.AI.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("AI_PROVIDER must be gemini or mock, got %q", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be > 0")
	}
	switch c.Quota.Backend {
	case "sqlite":
	case "redis":
		if c.Quota.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when QUOTA_BACKEND=redis")
		}
	default:
		return fmt.Errorf("QUOTA_BACKEND must be sqlite or redis, got %q", c.Quota.Backend)
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.Session.PersistQueueSize <= 0 {
		return fmt.Errorf("PERSIST_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
