// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all session-pool client configuration. BaseURL is read once
// at construction time; the client never re-reads configuration mid-flight.
type Config struct {
	BaseURL        string
	DataPath       string
	RequestTimeout time.Duration
	Port           string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:        getEnv("POOL_BASE_URL", "http://localhost:3005"),
		DataPath:       getEnv("POOL_DATA_PATH", "./data/sessionpool.db"),
		RequestTimeout: getEnvDuration("POOL_REQUEST_TIMEOUT", 15*time.Second),
		Port:           getEnv("PORT", "3005"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the fields every consumer needs. Port is only used by the
// dev server, which checks it itself; the client does not bind a port.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("POOL_BASE_URL cannot be empty")
	}
	if c.DataPath == "" {
		return fmt.Errorf("POOL_DATA_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("POOL_REQUEST_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if pointing at a local session-pool endpoint.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.BaseURL, "localhost") ||
		strings.Contains(c.BaseURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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
