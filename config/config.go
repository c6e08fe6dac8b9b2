/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L4
Logic:       Service configuration for the news ingestion core:
             database, Redis, blob storage, LLM bootstrap keys,
             content fetching endpoints, worker pool sizing.
Root Cause:  Sprint task N002 — environment configuration layer.
Context:     DATABASE_URL has no default. REDIS_URL falls back
             to redis://redis:6379 and is not checked for being
             set; everything else also has development defaults.
             Runtime LLM config comes from the admin settings
             table, not from here.
Suitability: L4 model used for security-critical config design.
──────────────────────────────────────────────────────────────
*/

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all newscore configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Blob storage
	NewsContentDir string

	// LLM bootstrap credentials (runtime values come from system settings)
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string

	// Content fetching
	BrowserServiceURL string
	ExtractAPIKey     string
	FetchTimeout      time.Duration

	// Market data providers
	AKShareServiceURL string
	TiingoAPIKey      string
	TushareToken      string
	FinnhubAPIKey     string

	// Pipeline workers
	WorkerCount   int
	QueueName     string
	RetentionSpec string
	NewsPollSpec  string

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPM     int

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("NEWSCORE_GRACEFUL_TIMEOUT_SEC", 15)
	fetchTimeoutSec := getEnvInt("NEWSCORE_FETCH_TIMEOUT_SEC", 30)

	cfg := &Config{
		Addr:            getEnv("NEWSCORE_ADDR", ":8090"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://redis:6379"),
		NewsContentDir:  getEnv("NEWS_CONTENT_DIR", "data/news_content"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),

		BrowserServiceURL: getEnv("BROWSER_SERVICE_URL", ""),
		ExtractAPIKey:     getEnv("EXTRACT_API_KEY", ""),
		FetchTimeout:      time.Duration(fetchTimeoutSec) * time.Second,

		AKShareServiceURL: getEnv("AKSHARE_SERVICE_URL", "http://localhost:8300"),
		TiingoAPIKey:      getEnv("TIINGO_API_KEY", ""),
		TushareToken:      getEnv("TUSHARE_TOKEN", ""),
		FinnhubAPIKey:     getEnv("FINNHUB_API_KEY", ""),

		WorkerCount:   getEnvInt("NEWSCORE_WORKERS", 4),
		QueueName:     getEnv("NEWSCORE_QUEUE", "newscore:articles"),
		RetentionSpec: getEnv("NEWSCORE_RETENTION_CRON", "23 4 * * *"),
		NewsPollSpec:  getEnv("NEWSCORE_NEWS_POLL_CRON", "*/15 * * * *"),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 120),

		MaxBodyBytes: int64(getEnvInt("NEWSCORE_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
