package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate returns every problem joined into one error, or nil.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.WS.BaseURL == "" {
		add("ws.base_url", "is required")
	} else if u, err := url.Parse(c.WS.BaseURL); err != nil {
		add("ws.base_url", "invalid URL: %v", err)
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		add("ws.base_url", "scheme must be ws or wss, got %q", u.Scheme)
	}

	if c.Reconnect.BaseDelay <= 0 {
		add("reconnect.base_delay", "must be positive, got %s", c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		add("reconnect.max_delay", "must be at least base_delay (%s), got %s", c.Reconnect.BaseDelay, c.Reconnect.MaxDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		add("reconnect.max_attempts", "must be at least 1, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Handshake.Fallback <= 0 {
		add("handshake.fallback", "must be positive, got %s", c.Handshake.Fallback)
	}
	if c.Search.Debounce < 0 {
		add("search.debounce", "must not be negative, got %s", c.Search.Debounce)
	}
	if c.Search.PollInterval <= 0 {
		add("search.poll_interval", "must be positive, got %s", c.Search.PollInterval)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format", "must be json or console, got %q", c.Log.Format)
	}

	if c.Stub.ChunkSize < 1 {
		add("stub.chunk_size", "must be at least 1, got %d", c.Stub.ChunkSize)
	}
	if c.Stub.ChunkDelay < 0 {
		add("stub.chunk_delay", "must not be negative, got %s", c.Stub.ChunkDelay)
	}

	return errors.Join(errs...)
}

// ValidateClient additionally requires the user identity needed to open
// the assistant and search channels.
func (c Config) ValidateClient() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.User.ID == "" {
		errs = append(errs, &ValidationError{Field: "user.id", Message: "is required"})
	}
	if c.User.CompanyID == "" {
		errs = append(errs, &ValidationError{Field: "user.company_id", Message: "is required"})
	}
	return errors.Join(errs...)
}
