// Package config loads service configuration from the environment. A .env
// file in the working directory is honored when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingDatabaseURL is returned when DATABASE_URL is not set.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Config holds the server's runtime settings.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	DedupTTL      time.Duration
	ActionTimeout time.Duration
	QueueCapacity int
	FlushInterval time.Duration

	LogRetention  time.Duration
	PurgeSchedule string
}

// Load reads configuration from the environment. Only DATABASE_URL is
// required; everything else has a default. REDIS_URL is optional and selects
// the Redis-backed deduplicator when set.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		DatabaseURL:   databaseURL,
		RedisURL:      os.Getenv("REDIS_URL"),
		PurgeSchedule: getEnvOrDefault("LOG_PURGE_SCHEDULE", "0 3 * * *"),
	}

	var err error
	if cfg.DedupTTL, err = getEnvDuration("DEDUP_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ActionTimeout, err = getEnvDuration("ACTION_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity, err = getEnvInt("LOG_QUEUE_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if cfg.FlushInterval, err = getEnvDuration("LOG_FLUSH_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogRetention, err = getEnvDuration("LOG_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
