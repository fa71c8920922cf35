/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequestKey(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		wantKey RequestKey
	}{
		{
			name:    "fragment is stripped",
			method:  http.MethodGet,
			target:  "https://app.example.com/index.html#totals",
			wantKey: RequestKey{Method: http.MethodGet, URL: "https://app.example.com/index.html"},
		},
		{
			name:    "query is kept",
			method:  http.MethodGet,
			target:  "https://app.example.com/report?month=3",
			wantKey: RequestKey{Method: http.MethodGet, URL: "https://app.example.com/report?month=3"},
		},
		{
			name:    "method is part of the key",
			method:  http.MethodPost,
			target:  "https://app.example.com/api/entries",
			wantKey: RequestKey{Method: http.MethodPost, URL: "https://app.example.com/api/entries"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			require.Equal(t, tt.wantKey, NewRequestKey(req))
		})
	}

	require.Equal(t, "GET https://app.example.com/", RequestKey{Method: "GET", URL: "https://app.example.com/"}.String())
}

func TestEntry_Response(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/manifest.json", nil)
	resp := &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
	}
	body := []byte(`{"name":"accounting"}`)
	entry := NewEntry(req, resp, body, ResponseTypeBasic)

	// The snapshot does not share memory with the source.
	body[0] = 'X'
	resp.Header.Set("Content-Type", "text/plain")
	require.Equal(t, `{"name":"accounting"}`, string(entry.Body))
	require.Equal(t, "application/json", entry.Header.Get("Content-Type"))
	require.Equal(t, "OK", entry.StatusText)

	first := entry.Response(req)
	second := entry.Response(req)
	first.Header.Set("X-Modified", "1")

	firstBody, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	secondBody, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	require.Equal(t, firstBody, secondBody)
	require.Equal(t, `{"name":"accounting"}`, string(secondBody))
	require.Empty(t, second.Header.Get("X-Modified"))
	require.Empty(t, entry.Header.Get("X-Modified"))
	require.Equal(t, "200 OK", second.Status)
	require.Equal(t, int64(len(secondBody)), second.ContentLength)
	require.Equal(t, req, second.Request)
}
