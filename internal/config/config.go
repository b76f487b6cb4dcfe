// Package config reads settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendREST   = "rest"
	BackendMemory = "memory"
)

type Config struct {
	// Gateway
	GatewayBackend string
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration

	// List cache
	ListCacheTTL  time.Duration
	ListCacheSize int

	// Write coalescing
	DebounceWindow   time.Duration
	SavedDisplay     time.Duration
	FlushConcurrency int

	// Database; empty disables snapshots and save error history
	SQLiteDBPath string

	// AMQP; empty URL disables change notifications
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Snapshot worker resync period; zero disables the periodic pass
	SyncInterval time.Duration

	LogLevel string
	// Seed files for the memory gateway
	DataDir string
}

// LoadEnvFile loads variables from path (".env" when empty) without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() *Config {
	return &Config{
		GatewayBackend: getEnv("GATEWAY_BACKEND", BackendMemory),
		GatewayURL:     getEnv("GATEWAY_URL", ""),
		GatewayToken:   getEnv("GATEWAY_TOKEN", ""),
		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),

		ListCacheTTL:  getEnvDuration("LIST_CACHE_TTL", 30*time.Second),
		ListCacheSize: getEnvInt("LIST_CACHE_SIZE", 64),

		DebounceWindow:   getEnvDuration("DEBOUNCE_WINDOW", 500*time.Millisecond),
		SavedDisplay:     getEnvDuration("SAVED_DISPLAY", 2*time.Second),
		FlushConcurrency: getEnvInt("FLUSH_CONCURRENCY", 8),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/organizer.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "organizer"),
		AMQPQueue:    getEnv("AMQP_QUEUE", ""),

		SyncInterval: getEnvDuration("SYNC_INTERVAL", 5*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		DataDir:  getEnv("DATA_DIR", "data"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	switch c.GatewayBackend {
	case BackendMemory:
	case BackendREST:
		if c.GatewayURL == "" {
			errors = append(errors, "GATEWAY_URL is required when using the rest backend")
		} else if u, err := url.Parse(c.GatewayURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid gateway URL '%s': %v", c.GatewayURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid gateway URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid gateway backend '%s': must be one of [%s %s]", c.GatewayBackend, BackendMemory, BackendREST))
	}

	if c.GatewayTimeout < 100*time.Millisecond || c.GatewayTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid gateway timeout %v: must be between 100ms and 5m", c.GatewayTimeout))
	}
	if c.ListCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid list cache TTL %v: must not be negative", c.ListCacheTTL))
	}
	if c.ListCacheSize < 1 || c.ListCacheSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid list cache size %d: must be between 1 and 10000", c.ListCacheSize))
	}

	if c.DebounceWindow < 10*time.Millisecond || c.DebounceWindow > 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid debounce window %v: must be between 10ms and 10s", c.DebounceWindow))
	}
	if c.SavedDisplay < 0 || c.SavedDisplay > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid saved display %v: must be between 0 and 1m", c.SavedDisplay))
	}
	if c.FlushConcurrency < 1 || c.FlushConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid flush concurrency %d: must be between 1 and 64", c.FlushConcurrency))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SyncInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must not be negative", c.SyncInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
