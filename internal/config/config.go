// Package config loads application configuration from environment variables
// and validates it before the server starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Events    EventsConfig
	Poll      PollConfig
	Stream    StreamConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `validate:"required"`
	Port string `validate:"required,numeric"`
}

// DatabaseConfig holds the optional PostgreSQL connection. When URL is empty
// the service runs without the directory backend and keeps all scope queues.
type DatabaseConfig struct {
	URL string
}

// JWTConfig holds JWT token validation configuration
type JWTConfig struct {
	AccessSecret string `validate:"required,min=32"`
	Issuer       string `validate:"required"`
}

// EventsConfig holds event retention configuration
type EventsConfig struct {
	QueueMaxLength int           `validate:"min=1"`
	MaxEventAge    time.Duration `validate:"min=1m"`
	SweepInterval  time.Duration `validate:"min=1s"`
}

// PollConfig holds long-poll dispatcher configuration
type PollConfig struct {
	DefaultTimeout time.Duration `validate:"min=1s"`
	MinTimeout     time.Duration `validate:"min=1s"`
	MaxTimeout     time.Duration `validate:"min=1s,gtefield=MinTimeout"`
	MaxBatch       int           `validate:"min=1"`
}

// StreamConfig holds SSE dispatcher configuration
type StreamConfig struct {
	HeartbeatInterval time.Duration `validate:"min=1s"`
}

// RateLimitConfig holds the per-user poll rate limit
type RateLimitConfig struct {
	Limit  int           `validate:"min=1"`
	Window time.Duration `validate:"min=1s"`
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string `validate:"min=1"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
			Issuer:       getEnv("JWT_ISSUER", "chatwire"),
		},
		Events: EventsConfig{
			QueueMaxLength: getIntEnv("EVENTS_QUEUE_MAX_LENGTH", 100),
			MaxEventAge:    getDurationEnv("EVENTS_MAX_AGE", 24*time.Hour),
			SweepInterval:  getDurationEnv("EVENTS_SWEEP_INTERVAL", 5*time.Minute),
		},
		Poll: PollConfig{
			DefaultTimeout: getDurationEnv("POLL_DEFAULT_TIMEOUT", 30*time.Second),
			MinTimeout:     getDurationEnv("POLL_MIN_TIMEOUT", 1*time.Second),
			MaxTimeout:     getDurationEnv("POLL_MAX_TIMEOUT", 60*time.Second),
			MaxBatch:       getIntEnv("POLL_MAX_BATCH", 100),
		},
		Stream: StreamConfig{
			HeartbeatInterval: getDurationEnv("STREAM_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Limit:  getIntEnv("POLL_RATE_LIMIT", 120),
			Window: getDurationEnv("POLL_RATE_WINDOW", time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration syntax ("30s", "5m") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getIntEnv returns int from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getListEnv returns a comma-separated list from environment variable or default
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
