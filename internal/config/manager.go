package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pm-assistant/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. PMASSIST_USER_ID.
const EnvPrefix = "PMASSIST"

// Manager owns the viper instance and the current configuration.
type Manager struct {
	configPath string
	viper      *viper.Viper
	log        *zap.Logger

	mu     sync.RWMutex
	config Config
}

// NewManager creates a manager reading configPath, which may be empty or
// point at a file that does not exist.
func NewManager(configPath string, logger *zap.Logger) *Manager {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: configPath,
		viper:      v,
		log:        logging.OrNop(logger),
		config:     DefaultConfig(),
	}
	m.setDefaults()
	return m
}

// Load is a shortcut for NewManager followed by Load and Get.
func Load(configPath string) (Config, error) {
	m := NewManager(configPath, nil)
	if err := m.Load(); err != nil {
		return Config{}, err
	}
	return m.Get(), nil
}

// Viper exposes the underlying instance so command-line flags can be
// bound to keys.
func (m *Manager) Viper() *viper.Viper {
	return m.viper
}

// Load reads all sources and validates the result.
func (m *Manager) Load() error {
	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file: %w", err)
			}
			m.log.Debug("config file not found, using defaults", zap.String("path", m.configPath))
		}
	}

	cfg, err := m.unmarshal()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch re-reads the file whenever it changes and calls fn with each new
// valid configuration. Invalid edits are logged and ignored.
func (m *Manager) Watch(fn func(Config)) {
	if m.configPath == "" {
		return
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.unmarshal()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			m.log.Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}

		m.mu.Lock()
		m.config = cfg
		m.mu.Unlock()

		m.log.Info("config reloaded", zap.String("file", e.Name), zap.Stringer("op", e.Op))
		if fn != nil {
			fn(cfg)
		}
	})
	m.viper.WatchConfig()
}

func (m *Manager) unmarshal() (Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply
// even when no file mentions the key.
func (m *Manager) setDefaults() {
	d := DefaultConfig()
	for key, value := range map[string]interface{}{
		"ws.base_url":            d.WS.BaseURL,
		"user.id":                d.User.ID,
		"user.company_id":        d.User.CompanyID,
		"user.is_admin":          d.User.IsAdmin,
		"reconnect.base_delay":   d.Reconnect.BaseDelay,
		"reconnect.max_delay":    d.Reconnect.MaxDelay,
		"reconnect.max_attempts": d.Reconnect.MaxAttempts,
		"handshake.fallback":     d.Handshake.Fallback,
		"search.debounce":        d.Search.Debounce,
		"search.poll_interval":   d.Search.PollInterval,
		"log.level":              d.Log.Level,
		"log.format":             d.Log.Format,
		"log.file":               d.Log.File,
		"metrics.addr":           d.Metrics.Addr,
		"stub.addr":              d.Stub.Addr,
		"stub.chunk_size":        d.Stub.ChunkSize,
		"stub.chunk_delay":       d.Stub.ChunkDelay,
		"stub.handshake":         d.Stub.Handshake,
		"stub.directory":         d.Stub.Directory,
	} {
		m.viper.SetDefault(key, value)
	}
}
