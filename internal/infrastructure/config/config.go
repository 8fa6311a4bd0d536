package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all sessionkit configuration.
type Config struct {
	API         APIConfig
	Session     SessionConfig
	Persistence PersistenceConfig
	Logging     LogConfig
}

// APIConfig holds backend API client configuration.
type APIConfig struct {
	BaseURL           string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	Timeout           time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	RetryMax          int           `envconfig:"API_RETRY_MAX" default:"3"`
	RetryWaitMin      time.Duration `envconfig:"API_RETRY_WAIT_MIN" default:"1s"`
	RetryWaitMax      time.Duration `envconfig:"API_RETRY_WAIT_MAX" default:"30s"`
	RequestsPerSecond float64       `envconfig:"API_RPS" default:"0"` // 0 = unlimited
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"5m"`
	ExpiryThreshold   time.Duration `envconfig:"SESSION_EXPIRY" default:"30m"`
	Zone              string        `envconfig:"SESSION_ZONE" default:""`
}

// PersistenceConfig holds durable storage configuration.
type PersistenceConfig struct {
	StateDir         string        `envconfig:"STATE_DIR" default:".sessionkit"`
	AutoSave         bool          `envconfig:"AUTOSAVE_ENABLED" default:"true"`
	AutoSaveInterval time.Duration `envconfig:"AUTOSAVE_INTERVAL" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SESSIONKIT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      30 * time.Second,
			RetryMax:     3,
			RetryWaitMin: 1 * time.Second,
			RetryWaitMax: 30 * time.Second,
		},
		Session: SessionConfig{
			HeartbeatInterval: 5 * time.Minute,
			ExpiryThreshold:   30 * time.Minute,
		},
		Persistence: PersistenceConfig{
			StateDir:         ".sessionkit",
			AutoSave:         true,
			AutoSaveInterval: 30 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}
