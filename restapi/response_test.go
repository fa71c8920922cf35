/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/log/logtest"
	"github.com/acronis/go-offlinecache/testutil"
)

const testDomain = "OfflineCache"

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (rw *failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestRespondJSON(t *testing.T) {
	type cacheInfo struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}

	t.Run("ok", func(t *testing.T) {
		resp := httptest.NewRecorder()
		logger := logtest.NewRecorder()
		info := &cacheInfo{Name: "v1", URL: "https://app.example.com/?a=1&b=2"}
		RespondJSON(resp, info, logger)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, `{"name":"v1","url":"https://app.example.com/?a=1&b=2"}`, resp.Body.String())
		testutil.RequireJSONInRecorder(t, resp, info, &cacheInfo{})
		require.Empty(t, logger.Entries())
	})

	t.Run("nil data", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondCodeAndJSON(resp, http.StatusNoContent, nil, nil)
		require.Equal(t, http.StatusNoContent, resp.Code)
		require.Empty(t, resp.Header().Get("Content-Type"))
		testutil.RequireEmptyBodyInRecorder(t, resp)
	})

	t.Run("marshaling error", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondJSON(resp, make(chan bool), nil)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		testutil.RequireEmptyBodyInRecorder(t, resp)

		resp = httptest.NewRecorder()
		logger := logtest.NewRecorder()
		RespondJSON(resp, make(chan bool), logger)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		require.Len(t, logger.Entries(), 1)
		require.Equal(t, log.LevelError, logger.Entries()[0].Level)
	})

	t.Run("writing error", func(t *testing.T) {
		logger := logtest.NewRecorder()
		RespondJSON(&failingWriter{httptest.NewRecorder()}, "v1", logger)
		_, found := logger.FindEntry("error while writing response body")
		require.True(t, found)
	})

	t.Run("content type is kept", func(t *testing.T) {
		resp := httptest.NewRecorder()
		resp.Header().Set("Content-Type", "application/problem+json")
		RespondJSON(resp, "v1", nil)
		require.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
	})
}

func TestRespondError(t *testing.T) {
	MustInitAndRegisterMetrics("")
	defer UnregisterMetrics()

	tests := []struct {
		name     string
		code     int
		apiErr   *Error
		withCtx  bool
		noLogger bool
	}{
		{name: "internal", code: http.StatusInternalServerError, apiErr: NewInternalError(testDomain), noLogger: true},
		{name: "not found", code: http.StatusNotFound, apiErr: NewNotFoundError(testDomain)},
		{
			name:    "with context",
			code:    http.StatusGatewayTimeout,
			apiErr:  NewError(testDomain, ErrCodeNetworkUnavailable, "").AddContext("url", "/app.js"),
			withCtx: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			var fieldLogger log.FieldLogger = logger
			if tt.noLogger {
				fieldLogger = nil
			}
			resp := httptest.NewRecorder()
			RespondError(resp, tt.code, tt.apiErr, fieldLogger)
			testutil.RequireErrorInRecorder(t, resp, tt.code, tt.apiErr.Domain, tt.apiErr.Code)

			if !tt.noLogger {
				entry, found := logger.FindEntry("error in response")
				require.True(t, found)
				require.Equal(t, log.LevelError, entry.Level)
				code, _ := entry.FindStringField("error_code")
				require.Equal(t, tt.apiErr.Code, code)
				_, found = entry.FindField("error_context")
				require.Equal(t, tt.withCtx, found)
			}

			counter := loadResponseErrorsCounter().WithLabelValues(tt.apiErr.Domain, tt.apiErr.Code)
			testutil.RequireSamplesCountInCounter(t, counter, 1)
		})
	}
}

func TestRespondMalformedRequestOrInternalError(t *testing.T) {
	t.Run("internal error", func(t *testing.T) {
		resp := httptest.NewRecorder()
		logger := logtest.NewRecorder()
		RespondMalformedRequestOrInternalError(resp, testDomain, errors.New("storage is down"), logger)
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, testDomain, ErrCodeInternal)
		_, found := logger.FindEntry("request handling failed")
		require.True(t, found)
	})

	t.Run("malformed request", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondMalformedRequestOrInternalError(resp, testDomain, NewTooLargeMalformedRequestError(1024*1024), nil)
		testutil.RequireErrorInRecorder(t, resp, http.StatusRequestEntityTooLarge, testDomain, "requestEntityTooLarge")
	})
}

func TestRespondKnownError(t *testing.T) {
	resp := httptest.NewRecorder()
	logger := logtest.NewRecorder()
	apiErr := NewError(testDomain, ErrCodeBadGateway, "").AddContext("url", "https://cdn.example/x.js").AddContext("cache", "v3")
	RespondKnownError(resp, apiErr, logger)
	testutil.RequireErrorInRecorder(t, resp, http.StatusBadGateway, testDomain, ErrCodeBadGateway)

	entry, found := logger.FindEntry("error in response")
	require.True(t, found)
	ctxField, found := entry.FindField("error_context")
	require.True(t, found)
	ctxValue := reflect.ValueOf(ctxField.Any)
	require.Equal(t, reflect.Slice, ctxValue.Kind())
	ctxLines := make([]string, ctxValue.Len())
	for i := range ctxLines {
		ctxLines[i] = ctxValue.Index(i).String()
	}
	require.Equal(t, []string{"cache: v3", "url: https://cdn.example/x.js"}, ctxLines)
}
