/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log/logtest"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/swhost"
	"github.com/acronis/go-offlinecache/testutil"
)

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestProxyHandler_TargetURL(t *testing.T) {
	h := NewProxyHandler(&fakeRegistry{}, mustParseURL(t, "https://app.example/accounting/"), testErrDomain, logtest.NewRecorder())
	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "https://app.example/accounting/"},
		{path: "/index.html", want: "https://app.example/accounting/index.html"},
		{path: "/api/report?year=2024&q=a%20b", want: "https://app.example/accounting/api/report?year=2024&q=a%20b"},
		{path: "/static/js/app.js", want: "https://app.example/accounting/static/js/app.js"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			require.Equal(t, tt.want, h.TargetURL(req).String())
		})
	}
}

func TestProxyHandler_ServeHTTP(t *testing.T) {
	registry := &fakeRegistry{roundTrip: func(req *http.Request) (*http.Response, error) {
		resp := textResponse(req, http.StatusOK, "<html>v3</html>")
		resp.Header.Set("Connection", "close")
		resp.Header.Set("Keep-Alive", "timeout=5")
		return resp, nil
	}}
	h := NewProxyHandler(registry, mustParseURL(t, "https://app.example/"), testErrDomain, logtest.NewRecorder())

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Header.Set("X-Client-ID", "tab-1")
	req.Header.Set("Connection", "X-Trace")
	req.Header.Set("X-Trace", "1")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "<html>v3</html>", resp.Body.String())
	require.Equal(t, "text/html", resp.Header().Get("Content-Type"))
	require.Empty(t, resp.Header().Get("Connection"))
	require.Empty(t, resp.Header().Get("Keep-Alive"))

	require.Len(t, registry.requests, 1)
	outReq := registry.requests[0]
	require.Equal(t, "https://app.example/index.html", outReq.URL.String())
	require.Equal(t, "app.example", outReq.Host)
	require.Empty(t, outReq.RequestURI)
	require.Equal(t, "tab-1", outReq.Header.Get("X-Client-ID"))
	require.Empty(t, outReq.Header.Get("X-Trace"))
	require.Empty(t, outReq.Header.Get("Connection"))
}

func TestProxyHandler_ServeHTTP_Head(t *testing.T) {
	registry := &fakeRegistry{roundTrip: func(req *http.Request) (*http.Response, error) {
		return textResponse(req, http.StatusOK, "<html>v3</html>"), nil
	}}
	h := NewProxyHandler(registry, mustParseURL(t, "https://app.example/"), testErrDomain, logtest.NewRecorder())

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodHead, "/index.html", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, resp.Body.String())
}

func TestProxyHandler_ServeHTTP_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantErrCode string
	}{
		{
			name:        "offline and not cached",
			err:         fmt.Errorf("fetch: %w", swhost.ErrNoResponse),
			wantStatus:  http.StatusGatewayTimeout,
			wantErrCode: restapi.ErrCodeNetworkUnavailable,
		},
		{
			name:        "handler failed",
			err:         errors.New("handler failed"),
			wantStatus:  http.StatusBadGateway,
			wantErrCode: restapi.ErrCodeBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &fakeRegistry{roundTrip: func(req *http.Request) (*http.Response, error) {
				return nil, tt.err
			}}
			logger := logtest.NewRecorder()
			h := NewProxyHandler(registry, mustParseURL(t, "https://app.example/"), testErrDomain, logger)

			resp := httptest.NewRecorder()
			h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/report", nil))
			testutil.RequireErrorInRecorder(t, resp, tt.wantStatus, testErrDomain, tt.wantErrCode)

			var respData restapi.ErrorResponseData
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
			require.Equal(t, "https://app.example/api/report", respData.Err.Context["url"])
		})
	}
}

func TestRouter_Proxy(t *testing.T) {
	registry := &fakeRegistry{roundTrip: func(req *http.Request) (*http.Response, error) {
		return textResponse(req, http.StatusOK, req.URL.Path), nil
	}}
	logger := logtest.NewRecorder()
	router := NewRouter(NewDefaultConfig(), logger, RouterOpts{
		Registry:    registry,
		Storage:     newTestStorage(t, nil),
		Scope:       mustParseURL(t, "https://app.example/accounting/"),
		ErrorDomain: testErrDomain,
	})

	for _, path := range []string{"/", "/manifest.json", "/api/offlinecache"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Client-ID", "tab-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "/accounting"+path, resp.Body.String())
		require.NotEmpty(t, resp.Header().Get("X-Request-ID"))
	}

	entry, found := logger.FindEntryByFilter(func(e logtest.RecordedEntry) bool {
		return strings.HasPrefix(e.Text, "response completed in")
	})
	require.True(t, found)
	clientID, found := entry.FindStringField("client_id")
	require.True(t, found)
	require.Equal(t, "tab-1", clientID)
}
