// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/freshkv/freshkv/internal/config"
	"github.com/freshkv/freshkv/internal/kv"
	"github.com/freshkv/freshkv/internal/kv/memory"
	"github.com/freshkv/freshkv/pkg/errutil"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP:    config.HTTPConfig{Addr: "127.0.0.1:0"},
		Metrics: config.MetricsConfig{Addr: "127.0.0.1:0"},
		Log:     config.LogConfig{Format: "text", Level: "error"},
		Store: config.StoreConfig{
			Driver:        config.DriverMemory,
			SweepInterval: 10 * time.Millisecond,
		},
	}
}

func TestRunServe_ServesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreAnyFunction("os/signal.loop"))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, testConfig(), &serveDeps{LogOutput: io.Discard, Ready: ready})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("runServe exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/api/auth/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["authenticated"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after cancel")
	}
}

func TestRunServe_StoreFailureIsReturned(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Addr = ""

	err := runServe(context.Background(), cfg, &serveDeps{
		LogOutput: io.Discard,
		OpenStore: func(context.Context, config.StoreConfig, *slog.Logger) (kv.Store, error) {
			return nil, errutil.Invalid("store", "unreachable")
		},
	})
	require.Error(t, err)
}

func TestRunServe_InvalidLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Log.Level = "loud"

	err := runServe(context.Background(), cfg, &serveDeps{LogOutput: io.Discard})
	require.Error(t, err)
}

func TestNewRouter_WiresServices(t *testing.T) {
	router, err := newRouter(memory.New(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NotNil(t, router)
}

func TestCountingDeleter_PassesThrough(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.New(memory.WithClock(func() time.Time { return now }))
	_, err := kv.Set(ctx, store, kv.Key{"sessions", "a"}, []byte(`1`), kv.WithExpireIn(time.Second))
	require.NoError(t, err)
	now = now.Add(time.Minute)

	n, err := countingDeleter{ExpiredDeleter: store}.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
