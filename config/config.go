// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads cartsync settings from defaults, an optional config
// file, a .env file and CARTSYNC_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Local  LocalConfig  `mapstructure:"local"`
	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// LocalConfig holds the on-device SQLite settings.
type LocalConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RemoteConfig points the device at a cartserver. An empty URL leaves the
// remote unconfigured and every sync is skipped.
type RemoteConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout"`
	FallbackPin   string        `mapstructure:"fallback_pin"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	LogTimings    bool          `mapstructure:"log_timings"`
}

// ServerConfig holds cartserver settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	DatabaseURL  string        `mapstructure:"database_url"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" | "json"
}

// Load reads configuration. path overrides CARTSYNC_CONFIG; a missing
// default config file is not an error, a missing explicit one is.
func Load(path string) (Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CARTSYNC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "cartsync"))
		v.SetConfigName("cartsync")
	}

	v.SetEnvPrefix("CARTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local.path", "cartsync.db")
	v.SetDefault("local.busy_timeout", 5*time.Second)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.request_timeout", 30*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.cycle_timeout", 2*time.Minute)
	v.SetDefault("sync.fallback_pin", "0000")
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("sync.log_timings", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.database_url", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("server.max_batch_size", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate rejects values that cannot work at run time.
func (c Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: must be text or json", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Remote.RequestTimeout <= 0 {
		return errors.New("remote.request_timeout must be positive")
	}
	if c.Sync.Interval < 0 || c.Sync.CycleTimeout < 0 {
		return errors.New("sync durations cannot be negative")
	}
	return nil
}
