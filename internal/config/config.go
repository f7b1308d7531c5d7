// Package config loads configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the console shell configuration.
type Config struct {
	// Backend
	ServerURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics listener (empty disables)
	MetricsAddr string

	// Local UI-state database
	UIStatePath string

	// Health probe
	HealthInterval time.Duration

	// HTTP client
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		ServerURL:      envOr("LIVECHAT_SERVER_URL", "http://localhost:8080"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
		MetricsAddr:    envOr("METRICS_ADDR", ""),
		UIStatePath:    envOr("LIVECHAT_UISTATE_PATH", ""),
		HealthInterval: envDuration("LIVECHAT_HEALTH_INTERVAL", 30*time.Second),
		RequestTimeout: envDuration("LIVECHAT_REQUEST_TIMEOUT", 30*time.Second),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
