// Package config loads relay settings from defaults, an optional JSON file
// and CAMPUSRELAY_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	dbconfig "campusrelay/pkg/database"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAMPUSRELAY"

// FileEnvVar names the JSON file applied between defaults and environment.
const FileEnvVar = EnvPrefix + "_CONFIG_FILE"

// Config is the full runtime configuration.
type Config struct {
	Database  *dbconfig.Config `envconfig:"DB"`
	HTTP      HTTPConfig       `envconfig:"HTTP"`
	WebSocket WebSocketConfig  `envconfig:"WEBSOCKET"`
	Auth      AuthConfig       `envconfig:"AUTH"`
	Relay     RelayConfig      `envconfig:"RELAY"`
	RateLimit RateLimitConfig  `envconfig:"RATE_LIMIT"`
	Alert     AlertConfig      `envconfig:"ALERT"`
	Log       LogConfig        `envconfig:"LOG"`
}

// HTTPConfig sizes the listener.
type HTTPConfig struct {
	Host            string        `split_words:"true"`
	Port            int           `split_words:"true"`
	ReadTimeout     time.Duration `split_words:"true"`
	WriteTimeout    time.Duration `split_words:"true"`
	ShutdownTimeout time.Duration `split_words:"true"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// WebSocketConfig bounds each live connection.
type WebSocketConfig struct {
	PingInterval   time.Duration `split_words:"true"`
	ReadTimeout    time.Duration `split_words:"true"`
	WriteTimeout   time.Duration `split_words:"true"`
	EnqueueTimeout time.Duration `split_words:"true"`
	BufferSize     int           `split_words:"true"`
	MaxMessageSize int64         `split_words:"true"`
}

// AuthConfig holds the token verification settings.
type AuthConfig struct {
	JWTSecret string `split_words:"true"`
	Issuer    string `split_words:"true"`
}

// RelayConfig tunes message routing.
type RelayConfig struct {
	PersistTimeout time.Duration `split_words:"true"`
}

// RateLimitConfig gates handshakes and API calls per identity.
type RateLimitConfig struct {
	Limit           int           `split_words:"true"`
	Window          time.Duration `split_words:"true"`
	CleanupInterval time.Duration `split_words:"true"`
}

// AlertConfig names who emergency escalations are addressed to.
type AlertConfig struct {
	EmergencyPhone string `split_words:"true"`
	EmergencyEmail string `split_words:"true"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `split_words:"true"`
	Format string `split_words:"true"`
}

// DefaultConfig returns production defaults. JWTSecret has no default and
// must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Second,
			EnqueueTimeout: time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 << 10,
		},
		Auth:  AuthConfig{Issuer: "campusrelay"},
		Relay: RelayConfig{PersistTimeout: 5 * time.Second},
		RateLimit: RateLimitConfig{
			Limit:           5,
			Window:          10 * time.Second,
			CleanupInterval: time.Minute,
		},
		Alert: AlertConfig{
			EmergencyPhone: "+233551234567",
			EmergencyEmail: "security@campus.edu",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 {
		return errors.New("WebSocket ping interval and read timeout must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.EnqueueTimeout <= 0 {
		return errors.New("WebSocket write and enqueue timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes")
	}
	if c.Relay.PersistTimeout <= 0 {
		return errors.New("relay persist timeout must be positive")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.CleanupInterval <= 0 {
		return errors.New("rate limit values must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Load applies defaults, then the file named by CAMPUSRELAY_CONFIG_FILE (if
// any), then the environment, and validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(FileEnvVar); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CAMPUSRELAY_* variables. Unset variables
// leave the current value in place.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}
