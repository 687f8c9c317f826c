// Package internal holds the process-level glue: configuration and
// logger construction for the server binary.
package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration, loaded from the environment.
type Config struct {
	Env      string
	LogLevel string
	Port     uint16

	// Store selects the persistence backend: memory, bolt or postgres.
	Store       string
	BoltPath    string
	DatabaseURL string

	// WebhookDelay is the simulated network delay before each webhook
	// delivery attempt.
	WebhookDelay time.Duration

	// SettleDelay is how long an asynchronous SEPA charge stays pending
	// before it settles.
	SettleDelay time.Duration
}

// NewConfig loads configuration from .env and the environment.
func NewConfig() (*Config, error) {
	// Try to load .env from the current directory, then walk up to find
	// it (max 2 levels).
	if err := godotenv.Load(); err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	cfg := &Config{
		Env:          getEnv("ENV", "dev"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvInt("PORT", 8420),
		Store:        getEnv("STORE", "memory"),
		BoltPath:     getEnv("BOLT_PATH", "localstripe.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		WebhookDelay: getEnvDuration("WEBHOOK_DELAY", time.Second),
		SettleDelay:  getEnvDuration("SETTLE_DELAY", 30*time.Second),
	}

	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	switch cfg.Store {
	case "memory", "bolt":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL required when STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("invalid STORE %q: want memory, bolt or postgres", cfg.Store)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Default().Warn("Invalid duration. Using default", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}
