// Package config loads docmap settings from docmap.yml and DOCMAP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/pkg/odm/connect"
)

// Config represents the docmap configuration
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`
	Log   LogConfig   `mapstructure:"log"`
}

// StoreConfig selects the storage engine
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	URL       string `mapstructure:"url"`
	Database  string `mapstructure:"database"`
	AutoIndex bool   `mapstructure:"auto_index"`
}

// RedisConfig holds redis specific settings
type RedisConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration file at path, or docmap.yml in the working
// directory when path is empty. A missing docmap.yml is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store.driver", connect.DriverMemory)
	v.SetDefault("store.url", "")
	v.SetDefault("store.database", "")
	v.SetDefault("store.auto_index", false)
	v.SetDefault("redis.prefix", connect.DefaultRedisPrefix)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docmap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// DOCMAP_STORE_DRIVER overrides store.driver
	v.SetEnvPrefix("DOCMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConnectOptions converts the store settings for connect.Open
func (c *Config) ConnectOptions(log *zap.Logger) connect.Options {
	return connect.Options{
		Driver:      c.Store.Driver,
		URL:         c.Store.URL,
		Database:    c.Store.Database,
		RedisPrefix: c.Redis.Prefix,
		Logger:      log,
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if !slices.Contains(connect.Drivers(), cfg.Store.Driver) {
		return fmt.Errorf("store.driver must be one of %s, got: %q",
			strings.Join(connect.Drivers(), ", "), cfg.Store.Driver)
	}
	if cfg.Store.Driver != connect.DriverMemory && cfg.Store.URL == "" {
		return fmt.Errorf("store.url is required for driver %s", cfg.Store.Driver)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got: %q", cfg.Log.Format)
	}
	return nil
}
