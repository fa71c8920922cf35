/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/log/logtest"
)

type statusHandler struct {
	called        int
	status        int
	delay         time.Duration
	loggingParams *LoggingParams
	logger        log.FieldLogger
}

func (h *statusHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.called++
	h.logger = GetLoggerFromContext(r.Context())
	h.loggingParams = GetLoggingParamsFromContext(r.Context())
	if h.loggingParams != nil {
		h.loggingParams.ExtendFields(log.String("worker", "v1"))
		h.loggingParams.AddTimeSlotInt("fetch_ms", 5)
	}
	time.Sleep(h.delay)
	if h.status != 0 {
		rw.WriteHeader(h.status)
		_, _ = rw.Write([]byte(http.StatusText(h.status)))
	}
}

func requireLogFieldString(t *testing.T, entry logtest.RecordedEntry, key, want string) {
	t.Helper()
	got, found := entry.FindStringField(key)
	require.True(t, found, "field %q", key)
	require.Equal(t, want, got)
}

func requireLogFieldInt(t *testing.T, entry logtest.RecordedEntry, key string, want int) {
	t.Helper()
	field, found := entry.FindField(key)
	require.True(t, found, "field %q", key)
	require.Equal(t, want, int(field.Int))
}

func newLoggingTestRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/index.html", strings.NewReader("body"))
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set(headerForwardedFor, "10.0.0.1, 10.0.0.2")
	ctx := NewContextWithRequestID(req.Context(), "ext-id")
	ctx = NewContextWithInternalRequestID(ctx, "int-id")
	ctx = NewContextWithClientID(ctx, "tab-1")
	return req.WithContext(ctx)
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name        string
		opts        LoggingOpts
		status      int
		wantEntries int
	}{
		{name: "response only", status: http.StatusOK, wantEntries: 1},
		{name: "request start", opts: LoggingOpts{RequestStart: true}, status: http.StatusGatewayTimeout, wantEntries: 2},
		{name: "nothing written", wantEntries: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			next := &statusHandler{status: tt.status}
			LoggingWithOpts(logger, tt.opts)(next).ServeHTTP(httptest.NewRecorder(), newLoggingTestRequest())

			require.Equal(t, 1, next.called)
			require.NotNil(t, next.logger)
			entries := logger.Entries()
			require.Len(t, entries, tt.wantEntries)
			if tt.opts.RequestStart {
				require.Equal(t, "request started", entries[0].Text)
			}

			entry := entries[len(entries)-1]
			require.True(t, strings.HasPrefix(entry.Text, "response completed in "))
			require.Equal(t, log.LevelInfo, entry.Level)
			requireLogFieldString(t, entry, "request_id", "ext-id")
			requireLogFieldString(t, entry, "int_request_id", "int-id")
			requireLogFieldString(t, entry, "client_id", "tab-1")
			requireLogFieldString(t, entry, "method", http.MethodPost)
			requireLogFieldString(t, entry, "uri", "/index.html")
			requireLogFieldString(t, entry, "user_agent", "test-agent")
			requireLogFieldString(t, entry, "origin_addr", "10.0.0.1")
			requireLogFieldString(t, entry, "worker", "v1")
			requireLogFieldInt(t, entry, "content_length", len("body"))
			wantStatus := tt.status
			if wantStatus == 0 {
				wantStatus = http.StatusOK
			}
			requireLogFieldInt(t, entry, "status", wantStatus)
			requireLogFieldInt(t, entry, "bytes_sent", len(http.StatusText(tt.status)))
			_, found := entry.FindField("time_slots")
			require.False(t, found)
		})
	}
}

func TestLogging_SlowRequest(t *testing.T) {
	logger := logtest.NewRecorder()
	next := &statusHandler{status: http.StatusOK, delay: 20 * time.Millisecond}
	h := LoggingWithOpts(logger, LoggingOpts{SlowRequestThreshold: 10 * time.Millisecond})(next)
	h.ServeHTTP(httptest.NewRecorder(), newLoggingTestRequest())

	require.Len(t, logger.Entries(), 1)
	field, found := logger.Entries()[0].FindField("time_slots")
	require.True(t, found)
	require.Equal(t, loggableIntMap{"fetch_ms": 5}, field.Any)
}

func TestLogging_ExcludedEndpoints(t *testing.T) {
	logger := logtest.NewRecorder()
	opts := LoggingOpts{RequestStart: true, ExcludedEndpoints: []string{"/healthz"}}

	next := &statusHandler{status: http.StatusOK}
	LoggingWithOpts(logger, opts)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, 1, next.called)
	require.Empty(t, logger.Entries())

	next = &statusHandler{status: http.StatusServiceUnavailable}
	LoggingWithOpts(logger, opts)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Len(t, logger.Entries(), 1)
	requireLogFieldInt(t, logger.Entries()[0], "status", http.StatusServiceUnavailable)
}
