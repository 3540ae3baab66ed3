// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config carries every tunable of the gateway process. Defaults are declared
// via envdecode struct tags so a bare environment yields a working local setup.
type Config struct {
	// ListenAddr is the bind address for both HTTP transports.
	ListenAddr string `env:"MCP_LISTEN_ADDR,default=:3003"`

	// BackendBaseURL is the root of the rentals backend API.
	BackendBaseURL string `env:"RENTALS_API_URL,default=http://localhost:3000"`

	// BackendTimeout bounds every backend call. There is no retry; a timeout
	// surfaces as a tool-execution error.
	BackendTimeout time.Duration `env:"RENTALS_API_TIMEOUT,default=30s"`

	// HeartbeatInterval is the SSE ping cadence that keeps intermediary
	// proxies from reaping idle streaming connections.
	HeartbeatInterval time.Duration `env:"MCP_SSE_HEARTBEAT,default=30s"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"MCP_LOG_LEVEL,default=info"`
}

// FromEnv populates a Config from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("RENTALS_API_TIMEOUT must be positive, got %s", cfg.BackendTimeout)
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("MCP_SSE_HEARTBEAT must be positive, got %s", cfg.HeartbeatInterval)
	}
	return cfg, nil
}

// SlogLevel maps the configured level name onto a slog.Level. Unknown names
// fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
