// Package config loads gigwatch configuration from TOML files and the
// environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gigwatch/gigwatch/errors"
)

// Config is the full gigwatch configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// RetryConfig controls backoff for failed job instances.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SweepConfig schedules the recurring expiry sweep.
type SweepConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// SourceConfig describes one scrape source. Options are opaque to the
// core and handed to the scraper unchanged.
type SourceConfig struct {
	Name          string            `mapstructure:"name"`
	Schedule      string            `mapstructure:"schedule"`
	RatePerSecond float64           `mapstructure:"rate_per_second"`
	Options       map[string]string `mapstructure:"options"`
}

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the gigwatch configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	applyFallbacks(&config)

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	applyFallbacks(&config)

	return &config, nil
}

// Reset clears the cached configuration (useful for testing and reload)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// SetDefaults applies default values to a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "gigwatch.db")

	v.SetDefault("pool.workers", 2)
	v.SetDefault("pool.poll_interval", "5s")
	v.SetDefault("pool.lease_ttl", "2m")
	v.SetDefault("pool.drain_timeout", "30s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "30s")
	v.SetDefault("retry.max_delay", "15m")

	// Hourly sweep keeps listings honest within the hour
	v.SetDefault("sweep.schedule", "0 * * * *")
}

// DefaultSourceSchedule is used for sources that do not set their own:
// every two hours, offset from the hourly sweep.
const DefaultSourceSchedule = "0 */2 * * *"

// applyFallbacks fills per-source defaults that viper's SetDefault cannot
// reach inside array tables.
func applyFallbacks(c *Config) {
	for i := range c.Sources {
		if c.Sources[i].Schedule == "" {
			c.Sources[i].Schedule = DefaultSourceSchedule
		}
	}
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("GIGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath := findConfig(); configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		// Missing or unreadable file falls back to defaults + env
		_ = v.ReadInConfig()
	}

	viperInstance = v
	return v
}

// findConfig searches for gigwatch.toml by walking up the directory tree,
// then falls back to ~/.gigwatch/config.toml.
func findConfig() string {
	dir, err := os.Getwd()
	if err == nil {
		for {
			path := filepath.Join(dir, "gigwatch.toml")
			if _, err := os.Stat(path); err == nil {
				return path
			}

			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	userConfig := filepath.Join(homeDir, ".gigwatch", "config.toml")
	if _, err := os.Stat(userConfig); err == nil {
		return userConfig
	}

	return ""
}

// GetDatabasePath returns the configured database path
func GetDatabasePath() (string, error) {
	// DB_PATH environment variable overrides for dev mode
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}
