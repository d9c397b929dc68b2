// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/freshkv/freshkv/internal/web"
	"github.com/freshkv/freshkv/pkg/errutil"
)

func TestServer_ServesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))

	e := newEnv(t)
	server := web.NewServer("127.0.0.1:0", e.handler, nil)
	assert.Empty(t, server.Addr())

	errCh, err := server.Start()
	require.NoError(t, err)

	_, err = server.Start()
	errutil.AssertErrorCode(t, err, "WEB_RUNNING")

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + server.Addr() + "/api/auth/status")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"authenticated":false,"user":null}`, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok, "channel should close without error, got %v", err)
	case <-time.After(time.Second):
		t.Fatal("error channel not closed after shutdown")
	}
}

func TestServer_ListenFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	_, err = web.NewServer(l.Addr().String(), http.NotFoundHandler(), nil).Start()
	errutil.AssertErrorCode(t, err, "WEB_LISTEN_FAILED")
}
