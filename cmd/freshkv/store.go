// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/freshkv/freshkv/internal/config"
	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/internal/kv/memory"
	"github.com/freshkv/freshkv/internal/kv/postgres"
	kvredis "github.com/freshkv/freshkv/internal/kv/redis"
)

// connectBackoff is the first retry delay; it doubles per attempt.
var connectBackoff = 500 * time.Millisecond

// openStore connects the configured backend, retrying with exponential
// backoff. For PostgreSQL, pending migrations are applied once connected
// when auto-migrate is on.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (kv.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil

	case config.DriverPostgres:
		store, err := connectWithRetry(ctx, cfg.ConnectRetries, logger, func(ctx context.Context) (kv.Store, error) {
			store, err := postgres.Open(ctx, cfg.PostgresURL)
			if err != nil {
				return nil, err
			}
			if err := store.Ping(ctx); err != nil {
				_ = store.Close() //nolint:errcheck // ping error takes precedence
				return nil, err
			}
			return store, nil
		})
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.PostgresURL, logger); err != nil {
				_ = store.Close() //nolint:errcheck // migration error takes precedence
				return nil, err
			}
		}
		return store, nil

	case config.DriverRedis:
		return connectWithRetry(ctx, cfg.ConnectRetries, logger, func(ctx context.Context) (kv.Store, error) {
			return kvredis.Open(ctx, cfg.RedisAddr)
		})

	default:
		return nil, oops.Code("CONFIG_INVALID").With("key", "store.driver").Errorf("unknown store driver %q", cfg.Driver)
	}
}

// connectWithRetry calls connect until it succeeds or retries attempts
// beyond the first have failed.
func connectWithRetry(ctx context.Context, retries int, logger *slog.Logger, connect func(context.Context) (kv.Store, error)) (kv.Store, error) {
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(connectBackoff)) //nolint:gosec // retries is validated non-negative

	var store kv.Store
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := connect(ctx)
		if err != nil {
			logger.Warn("store connection failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}
	return store, nil
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	migrator, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	version, _, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("database schema up to date", "version", version)
	return nil
}
