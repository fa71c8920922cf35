/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log/logtest"
	"github.com/acronis/go-offlinecache/swhost"
	"github.com/acronis/go-offlinecache/testutil"
)

func TestNew_Validation(t *testing.T) {
	scope := mustParseURL(t, "https://app.example/")
	tests := []struct {
		name    string
		opts    Opts
		wantErr string
	}{
		{name: "no registration", opts: Opts{Storage: newTestStorage(t, nil), Scope: scope}, wantErr: "registration is required"},
		{name: "no storage", opts: Opts{Registration: &fakeRegistry{}, Scope: scope}, wantErr: "cache storage is required"},
		{
			name:    "relative scope",
			opts:    Opts{Registration: &fakeRegistry{}, Storage: newTestStorage(t, nil), Scope: mustParseURL(t, "/app/")},
			wantErr: "scope must be an absolute URL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(NewDefaultConfig(), logtest.NewRecorder(), tt.opts)
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestHTTPServer_StartStop(t *testing.T) {
	registry := &fakeRegistry{
		roundTrip: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/offline.html" {
				return nil, swhost.ErrNoResponse
			}
			return textResponse(req, http.StatusOK, "<html>"+req.URL.Path+"</html>"), nil
		},
		info: swhost.Info{Active: &swhost.WorkerInfo{ID: "w1", Version: "accounting-app-v3", State: swhost.StateActivated}},
	}
	cfg := NewDefaultConfig()
	cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()
	logger := logtest.NewRecorder()
	srv, err := New(cfg, logger, Opts{
		Registration:     registry,
		Storage:          newTestStorage(t, nil),
		Scope:            mustParseURL(t, "https://app.example/"),
		ErrorDomain:      testErrDomain,
		MetricsNamespace: "offlinecache_test",
	})
	require.NoError(t, err)
	require.Equal(t, "http://"+cfg.Address, srv.URL)

	srv.MustRegisterMetrics()
	defer srv.UnregisterMetrics()

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(cfg.Address, 3*time.Second))
	require.NotZero(t, srv.GetPort())

	get := func(path string) (int, string) {
		t.Helper()
		resp, getErr := http.Get(fmt.Sprintf("http://%s%s", cfg.Address, path))
		require.NoError(t, getErr)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		body, readErr := io.ReadAll(resp.Body)
		require.NoError(t, readErr)
		return resp.StatusCode, string(body)
	}

	status, body := get("/index.html")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "<html>/index.html</html>", body)

	status, _ = get("/offline.html")
	require.Equal(t, http.StatusGatewayTimeout, status)

	status, body = get("/healthz")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"components":{"storage":true}}`, body)

	status, _ = get(AdminAPIPrefix + "/registration")
	require.Equal(t, http.StatusOK, status)

	status, body = get("/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "offlinecache_test_http_request_duration_seconds")

	require.NoError(t, srv.Stop(true))
	testutil.RequireNoErrorInChannel(t, fatalErr)
	_, found := logger.FindEntry("offline cache HTTP server closed")
	require.True(t, found)
}

func TestHTTPServer_StartFailed(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Address = "127.0.0.1:-1"
	srv, err := New(cfg, logtest.NewRecorder(), Opts{
		Registration: &fakeRegistry{},
		Storage:      newTestStorage(t, nil),
		Scope:        mustParseURL(t, "https://app.example/"),
	})
	require.NoError(t, err)

	fatalErr := make(chan error, 1)
	srv.Start(fatalErr)
	testutil.RequireErrorInChannel(t, fatalErr, 3*time.Second)
}
