// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package config loads FreshKV configuration. Values come from flag
// defaults, then the YAML config file, then flags the user set explicitly.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/freshkv/freshkv/internal/logging"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Store   StoreConfig   `koanf:"store"`
}

// HTTPConfig configures the public web server.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	Driver         string        `koanf:"driver"`
	PostgresURL    string        `koanf:"postgres_url"`
	RedisAddr      string        `koanf:"redis_addr"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	ConnectRetries int           `koanf:"connect_retries"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"store":           "store.driver",
	"postgres-url":    "store.postgres_url",
	"redis-addr":      "store.redis_addr",
	"sweep-interval":  "store.sweep_interval",
	"connect-retries": "store.connect_retries",
	"auto-migrate":    "store.auto_migrate",
}

// RegisterFlags adds every configuration flag, with its default, to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("http-addr", ":8000", "web server listen address")
	flags.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("store", DriverMemory, "key-value backend (memory, postgres, redis)")
	flags.String("postgres-url", "", "PostgreSQL URL (default $DATABASE_URL)")
	flags.String("redis-addr", "", "Redis address (default $REDIS_ADDR)")
	flags.Duration("sweep-interval", 5*time.Minute, "interval between expired-entry sweeps")
	flags.Int("connect-retries", 5, "store connection attempts at startup")
	flags.Bool("auto-migrate", true, "apply PostgreSQL migrations on startup")
}

// Load reads path (if any) and the flags in fs into a Config. When required
// is false a missing file is skipped; this is how the default XDG location
// is treated.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" && (required || fileExists(path)) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func (c *Config) applyEnv() {
	if c.Store.PostgresURL == "" {
		c.Store.PostgresURL = os.Getenv("DATABASE_URL")
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = os.Getenv("REDIS_ADDR")
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http.addr").Errorf("http.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").Wrap(err)
	}
	if c.Store.ConnectRetries < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "store.connect_retries").Errorf("store.connect_retries cannot be negative")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			return oops.Code("CONFIG_INVALID").With("key", "store.postgres_url").Errorf("store.postgres_url is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return oops.Code("CONFIG_INVALID").With("key", "store.redis_addr").Errorf("store.redis_addr is required for the redis driver")
		}
	default:
		return oops.Code("CONFIG_INVALID").With("key", "store.driver").Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
