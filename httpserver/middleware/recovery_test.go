/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/log/logtest"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/testutil"
)

func panicHandler(value interface{}) http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(value)
	})
}

func TestRecovery(t *testing.T) {
	const errDomain = "OfflineCache"

	t.Run("without logger", func(t *testing.T) {
		resp := httptest.NewRecorder()
		h := Recovery(errDomain)(panicHandler("boom"))
		require.NotPanics(t, func() { h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil)) })
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)
	})

	t.Run("panic is logged with stack", func(t *testing.T) {
		logger := logtest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
		resp := httptest.NewRecorder()
		h := RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: 16})(panicHandler("boom"))

		require.NotPanics(t, func() { h.ServeHTTP(resp, req) })
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)

		entry, found := logger.FindEntry("Panic: boom")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
		stack, found := entry.FindField("stack")
		require.True(t, found)
		require.Len(t, stack.Bytes, 16)
	})

	t.Run("abort handler panic is propagated", func(t *testing.T) {
		logger := logtest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
		h := Recovery(errDomain)(panicHandler(http.ErrAbortHandler))

		require.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), req) })
		entry, found := logger.FindEntry("request has been aborted")
		require.True(t, found)
		require.Equal(t, log.LevelWarn, entry.Level)
	})
}
