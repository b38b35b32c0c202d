// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCPort       string
	DBPath         string
	ProfilesPath   string // optional YAML seed file
	LogLevel       slog.Level
	AllowedOrigins []string
	Chat           ChatConfig
	Generator      GeneratorConfig
	Market         MarketConfig
	RateLimit      RateLimitConfig
}

// ChatConfig controls session lifecycle and turn fan-out.
type ChatConfig struct {
	SessionTTL               time.Duration
	SweepInterval            time.Duration
	MaxSessions              int // 0 = unbounded
	MaxConcurrentGenerations int
	GenerationTimeout        time.Duration
}

// GeneratorConfig selects and configures the response backend.
type GeneratorConfig struct {
	Backend       string // "stub" or "openai"
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	MaxTokens     int
}

// MarketConfig configures the CoinGecko client.
type MarketConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	CacheTTL          time.Duration
	RedisAddr         string // empty disables the response cache
	Timeout           time.Duration
}

// RateLimitConfig bounds inbound API requests per client.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "9090"),
		DBPath:         getEnv("DB_PATH", "./data/agora.db"),
		ProfilesPath:   getEnv("PROFILES_PATH", ""),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		Chat: ChatConfig{
			SessionTTL:               getEnvDuration("SESSION_TTL", 60*time.Minute),
			SweepInterval:            getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			MaxSessions:              getEnvInt("MAX_SESSIONS", 10000),
			MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 16),
			GenerationTimeout:        getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		},
		Generator: GeneratorConfig{
			Backend:       getEnv("GENERATOR_BACKEND", "stub"),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens:     getEnvInt("OPENAI_MAX_TOKENS", 512),
		},
		Market: MarketConfig{
			BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:            getEnv("COINGECKO_API_KEY", ""),
			RequestsPerMinute: getEnvInt("COINGECKO_RPM", 30),
			CacheTTL:          getEnvDuration("MARKET_CACHE_TTL", time.Minute),
			RedisAddr:         getEnv("REDIS_ADDR", ""),
			Timeout:           getEnvDuration("COINGECKO_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
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
	if c.Chat.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Chat.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Chat.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS must be >= 0")
	}
	if c.Chat.MaxConcurrentGenerations <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_GENERATIONS must be > 0")
	}
	switch strings.ToLower(c.Generator.Backend) {
	case "stub":
	case "openai":
		if c.Generator.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATOR_BACKEND=openai")
		}
	default:
		return fmt.Errorf("GENERATOR_BACKEND must be stub or openai, got %q", c.Generator.Backend)
	}
	if c.Market.BaseURL == "" {
		return fmt.Errorf("COINGECKO_BASE_URL cannot be empty")
	}
	if c.Market.RequestsPerMinute <= 0 {
		return fmt.Errorf("COINGECKO_RPM must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if any origin is allowed.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

// getEnvDuration accepts Go duration strings ("90s", "2h") or bare seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
