package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for sparechange
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis configuration, empty disables the per-wallet run lock
	RedisURL string
	LockTTL  time.Duration

	// Transfer feed configuration
	HeliusAPIKey    string
	HeliusEndpoints []string
	HeliusRateLimit float64
	FetchTimeout    time.Duration
	FetchRetries    int

	// Price feed configuration
	PriceAPIURL   string
	PriceCacheTTL time.Duration
	PriceTimeout  time.Duration

	// Accumulation configuration
	InvestmentThreshold decimal.Decimal
	TrackConcurrency    int

	// Server configuration
	HTTPPort string

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", ""),
		DBPassword:   getEnv("DB_PASSWORD", ""),
		DBName:       getEnv("DB_NAME", ""),
		DBSSLMode:    getEnv("DB_SSL_MODE", "disable"),
		RedisURL:     getEnv("REDIS_URL", ""),
		HeliusAPIKey: getEnv("HELIUS_API_KEY", ""),
		PriceAPIURL:  getEnv("PRICE_API_URL", "https://api.jup.ag/price/v2"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	// Parse Helius endpoints
	cfg.HeliusEndpoints = splitList(getEnv("HELIUS_ENDPOINTS", "https://api.helius.xyz"))

	var err error
	cfg.HeliusRateLimit, err = parseFloatEnv("HELIUS_RATE_LIMIT", 2)
	if err != nil {
		return cfg, fmt.Errorf("invalid HELIUS_RATE_LIMIT: %w", err)
	}

	cfg.FetchRetries, err = parseIntEnv("FETCH_RETRIES", 3)
	if err != nil {
		return cfg, fmt.Errorf("invalid FETCH_RETRIES: %w", err)
	}

	cfg.TrackConcurrency, err = parseIntEnv("TRACK_CONCURRENCY", 4)
	if err != nil {
		return cfg, fmt.Errorf("invalid TRACK_CONCURRENCY: %w", err)
	}

	durations := []struct {
		key    string
		def    time.Duration
		target *time.Duration
	}{
		{"FETCH_TIMEOUT", 30 * time.Second, &cfg.FetchTimeout},
		{"PRICE_CACHE_TTL", time.Minute, &cfg.PriceCacheTTL},
		{"PRICE_TIMEOUT", 5 * time.Second, &cfg.PriceTimeout},
		{"LOCK_TTL", 2 * time.Minute, &cfg.LockTTL},
	}
	for _, d := range durations {
		*d.target, err = parseDurationEnv(d.key, d.def)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	cfg.InvestmentThreshold, err = decimal.NewFromString(getEnv("INVESTMENT_THRESHOLD", "1.00"))
	if err != nil {
		return cfg, fmt.Errorf("invalid INVESTMENT_THRESHOLD: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// DSN builds the postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.HeliusAPIKey == "" {
		return fmt.Errorf("HELIUS_API_KEY is required")
	}

	if len(c.HeliusEndpoints) == 0 {
		return fmt.Errorf("at least one Helius endpoint is required")
	}

	if c.HeliusRateLimit <= 0 {
		return fmt.Errorf("HELIUS_RATE_LIMIT must be positive")
	}

	if c.FetchRetries < 0 {
		return fmt.Errorf("FETCH_RETRIES must not be negative")
	}

	if c.TrackConcurrency < 1 {
		return fmt.Errorf("TRACK_CONCURRENCY must be at least 1")
	}

	if c.PriceCacheTTL <= 0 || c.PriceTimeout <= 0 || c.FetchTimeout <= 0 || c.LockTTL <= 0 {
		return fmt.Errorf("timeouts and TTLs must be positive")
	}

	if !c.InvestmentThreshold.IsPositive() {
		return fmt.Errorf("INVESTMENT_THRESHOLD must be positive")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
