// Package config loads client and stub-server settings from a YAML file,
// PMASSIST_* environment variables and defaults.
package config

import (
	"time"

	"pm-assistant/internal/channel"
	"pm-assistant/internal/logging"
)

// Config is the full configuration.
type Config struct {
	WS        WSConfig        `mapstructure:"ws"`
	User      UserConfig      `mapstructure:"user"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Stub      StubConfig      `mapstructure:"stub"`
}

// WSConfig locates the realtime service.
type WSConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// UserConfig identifies the caller. It is sent in every query context.
type UserConfig struct {
	ID        string `mapstructure:"id"`
	CompanyID string `mapstructure:"company_id"`
	IsAdmin   bool   `mapstructure:"is_admin"`
}

// ReconnectConfig is the backoff policy shared by both channels.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// HandshakeConfig controls the connection_established fallback.
type HandshakeConfig struct {
	Fallback time.Duration `mapstructure:"fallback"`
}

// SearchConfig tunes the mention search channel.
type SearchConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StubConfig configures the local stand-in server.
type StubConfig struct {
	Addr       string        `mapstructure:"addr"`
	ChunkSize  int           `mapstructure:"chunk_size"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
	Handshake  bool          `mapstructure:"handshake"`
	Directory  string        `mapstructure:"directory"`
}

// Policy returns the reconnect policy.
func (c Config) Policy() channel.Policy {
	return channel.Policy{
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// LoggingOptions returns the logger options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File:   c.Log.File,
	}
}
