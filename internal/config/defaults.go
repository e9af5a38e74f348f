package config

import "time"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() Config {
	var cfg Config

	cfg.WS.BaseURL = "ws://localhost:8080"

	// Reconnect defaults: 1s doubling up to 10s, 20 attempts.
	cfg.Reconnect.BaseDelay = time.Second
	cfg.Reconnect.MaxDelay = 10 * time.Second
	cfg.Reconnect.MaxAttempts = 20

	cfg.Handshake.Fallback = 3 * time.Second

	cfg.Search.Debounce = 300 * time.Millisecond
	cfg.Search.PollInterval = 100 * time.Millisecond

	cfg.Log.Level = "info"
	cfg.Log.Format = "console"

	cfg.Stub.Addr = ":8080"
	cfg.Stub.ChunkSize = 24
	cfg.Stub.ChunkDelay = 20 * time.Millisecond
	cfg.Stub.Handshake = true

	return cfg
}
