// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Auth modes.
const (
	AuthModeJWT    = "jwt"
	AuthModeStatic = "static"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// TLS (optional — if both set, server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Auth
	JWTSecret string

	// AuthMode selects the token verifier wired at startup: "jwt" for
	// signed tokens, "static" for the end-to-end test harness.
	AuthMode string

	// Static auth (test mode only)
	StaticToken    string
	StaticUsername string
	StaticRole     string

	// Limits
	MaxBodySize   int64
	SearchLimit   int
	TokenTTLHours int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		TLSCertFile:    envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:     envOr("TLS_KEY_FILE", ""),
		JWTSecret:      envOr("JWT_SECRET", ""),
		AuthMode:       envOr("AUTH_MODE", AuthModeJWT),
		StaticToken:    envOr("STATIC_AUTH_TOKEN", ""),
		StaticUsername: envOr("STATIC_AUTH_USER", "e2e"),
		StaticRole:     envOr("STATIC_AUTH_ROLE", "admin"),
		MaxBodySize:    envInt64("MAX_BODY_SIZE", 1024*1024), // 1MB default
		SearchLimit:    envInt("SEARCH_LIMIT", 100),
		TokenTTLHours:  envInt("TOKEN_TTL_HOURS", 30*24),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.AuthMode {
	case AuthModeJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
	case AuthModeStatic:
		if cfg.StaticToken == "" {
			return nil, fmt.Errorf("STATIC_AUTH_TOKEN is required in static auth mode")
		}
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
