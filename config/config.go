// Package config provides configuration for the benchmark service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the benchmark service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Provider call budget
	ProviderTimeout time.Duration
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	// Concurrency limits are applied per provider so one throttled backend
	// does not starve the others. ProviderConcurrency overrides the default
	// for named providers.
	DefaultConcurrency  int
	ProviderConcurrency map[string]int

	// AbandonOnCancel controls whether in-flight provider calls are cut off
	// when a run is cancelled, or allowed to finish and persist.
	AbandonOnCancel bool

	// Logging
	LogLevel    string
	Development bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:         getEnv("DATABASE_URL", "file:biasbench.db?cache=shared&mode=rwc"),
		ProviderTimeout:     time.Duration(getEnvInt("PROVIDER_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxAttempts:         getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
		RetryBaseDelay:      time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		RetryMaxDelay:       time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 8000)) * time.Millisecond,
		DefaultConcurrency:  getEnvInt("DEFAULT_CONCURRENCY", 4),
		ProviderConcurrency: parseConcurrencyMap(getEnv("PROVIDER_CONCURRENCY", "")),
		AbandonOnCancel:     getEnvBool("ABANDON_ON_CANCEL", true),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Development:         getEnvBool("DEVELOPMENT", false),
	}
}

// ConcurrencyFor returns the worker-pool size for a provider.
func (c *Config) ConcurrencyFor(provider string) int {
	if n, ok := c.ProviderConcurrency[provider]; ok && n > 0 {
		return n
	}
	if c.DefaultConcurrency > 0 {
		return c.DefaultConcurrency
	}
	return 1
}

// parseConcurrencyMap parses "openai=4,anthropic=2" style overrides.
func parseConcurrencyMap(raw string) map[string]int {
	out := map[string]int{}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if n, err := strconv.Atoi(kv[1]); err == nil && n > 0 {
			out[kv[0]] = n
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
