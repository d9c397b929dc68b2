// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freshkv/freshkv/internal/auth"
	"github.com/freshkv/freshkv/internal/chat"
	"github.com/freshkv/freshkv/internal/config"
	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/internal/logging"
	"github.com/freshkv/freshkv/internal/observability"
	"github.com/freshkv/freshkv/internal/person"
	"github.com/freshkv/freshkv/internal/web"
	"github.com/freshkv/freshkv/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// serveDeps holds the pieces tests replace. Nil fields use the defaults.
type serveDeps struct {
	// OpenStore connects the configured backend. Default: openStore.
	OpenStore func(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (kv.Store, error)

	// LogOutput receives log records. Default: os.Stderr.
	LogOutput io.Writer

	// Ready, if set, receives the bound web address once serving.
	Ready chan<- string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the HTTP API, the metrics and health server, and the expired-entry
sweeper. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, nil)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, deps *serveDeps) error {
	if deps == nil {
		deps = &serveDeps{}
	}
	if deps.OpenStore == nil {
		deps.OpenStore = openStore
	}
	if deps.LogOutput == nil {
		deps.LogOutput = os.Stderr
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup("freshkv", version, cfg.Log.Format, level, deps.LogOutput)
	slog.SetDefault(logger)

	logger.Info("starting freshkv", "store", cfg.Store.Driver, "http_addr", cfg.HTTP.Addr)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := deps.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("error closing store", "error", closeErr)
		}
	}()

	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, store.Ping, logger)
		obsErr, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErr, "observability", logger)
		metrics = obsServer.Metrics()
	}

	if deleter, ok := store.(kv.ExpiredDeleter); ok {
		sweeper, err := kv.NewSweeper(countingDeleter{deleter, metrics}, cfg.Store.SweepInterval, logger)
		if err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	router, err := newRouter(store, metrics, logger)
	if err != nil {
		return err
	}
	webServer := web.NewServer(cfg.HTTP.Addr, router, logger)
	webErr, err := webServer.Start()
	if err != nil {
		stopServer(obsServer, logger)
		return err
	}
	go monitorServerErrors(ctx, cancel, webErr, "web", logger)

	if deps.Ready != nil {
		deps.Ready <- webServer.Addr()
	}
	logger.Info("freshkv ready", "http_addr", webServer.Addr())

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping web server", "error", err)
	}
	stopServer(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

// newRouter builds the domain services over store and the HTTP router
// over them.
func newRouter(store kv.Store, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, error) {
	directory, err := auth.NewDirectory(store, auth.WithDirectoryLogger(logger))
	if err != nil {
		return nil, err
	}
	sessions, err := auth.NewSessionManager(store, nil)
	if err != nil {
		return nil, err
	}
	ledger, err := chat.NewLedger(store, nil)
	if err != nil {
		return nil, err
	}
	persons, err := person.NewService(store, nil)
	if err != nil {
		return nil, err
	}
	return web.NewRouter(web.Config{
		Directory: directory,
		Sessions:  sessions,
		Ledger:    ledger,
		Persons:   persons,
		Metrics:   metrics,
		Logger:    logger,
	})
}

// countingDeleter reports swept entries to metrics.
type countingDeleter struct {
	kv.ExpiredDeleter
	metrics *observability.Metrics
}

func (d countingDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := d.ExpiredDeleter.DeleteExpired(ctx)
	if err != nil {
		return 0, err //nolint:wrapcheck // the sweeper adds the code
	}
	d.metrics.RecordSwept(n)
	return n, nil
}

func stopServer(s *observability.Server, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			errutil.LogError(logger, "server failed", err, "server", name)
			cancel()
		}
	}
}
