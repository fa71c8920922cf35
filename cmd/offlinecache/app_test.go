/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/httpserver"
	"github.com/acronis/go-offlinecache/log/logtest"
	"github.com/acronis/go-offlinecache/swhost"
)

func newTestOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
			rw.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(rw, "<html>accounting</html>")
		case "/manifest.json":
			_, _ = io.WriteString(rw, `{"name":"accounting"}`)
		default:
			http.NotFound(rw, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, path, origin, version string) {
	t.Helper()
	cfg := fmt.Sprintf(`
log:
  level: error
cache:
  version: %s
  scope: %s/
  assets:
    - ./
    - ./index.html
`, version, origin)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
}

func newTestApp(t *testing.T, version string) (*app, string) {
	t.Helper()
	origin := newTestOrigin(t)
	cfgPath := filepath.Join(t.TempDir(), "offlinecache.yml")
	writeTestConfig(t, cfgPath, origin.URL, version)
	a, err := newApp(cfgPath)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a, origin.URL
}

func TestLoadAppConfig(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "offlinecache.yml")
	writeTestConfig(t, yamlPath, "https://app.example", "accounting-app-v4")
	cfg, err := loadAppConfig(yamlPath)
	require.NoError(t, err)
	require.Equal(t, "accounting-app-v4", cfg.Cache.Version)
	require.Equal(t, "https://app.example/", cfg.Cache.Scope)
	require.Equal(t, []string{"./", "./index.html"}, cfg.Cache.Assets)
	require.Equal(t, cachestorage.TypeMemory, cfg.Storage.Type)
	require.Equal(t, swhost.DefaultClientIDHeader, cfg.Host.ClientIDHeader)
	require.Equal(t, httpserver.DefaultAddress, cfg.Server.Address)

	jsonPath := filepath.Join(dir, "offlinecache.json")
	require.NoError(t, os.WriteFile(jsonPath,
		[]byte(`{"cache": {"scope": "https://app.example/"}, "host": {"updateInterval": "1m"}}`), 0o600))
	cfg, err = loadAppConfig(jsonPath)
	require.NoError(t, err)
	require.Equal(t, "accounting-app-v3", cfg.Cache.Version)
	require.Equal(t, time.Minute, time.Duration(cfg.Host.UpdateInterval))

	_, err = loadAppConfig(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)

	badPath := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(badPath, []byte("cache:\n  scope: app\n"), 0o600))
	_, err = loadAppConfig(badPath)
	require.ErrorContains(t, err, "cache.scope")
}

func TestApp_Precache(t *testing.T) {
	a, _ := newTestApp(t, "accounting-app-v3")

	var out bytes.Buffer
	require.NoError(t, a.precache(context.Background(), &out))
	require.Equal(t, "cache \"accounting-app-v3\" is activated\n", out.String())

	names, err := a.storage.Keys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"accounting-app-v3"}, names)

	out.Reset()
	require.NoError(t, printCaches(context.Background(), &out, a.storage, true))
	require.Contains(t, out.String(), "NAME")
	require.Contains(t, out.String(), "accounting-app-v3  2")
	require.Contains(t, out.String(), "/index.html")
}

func TestApp_Sync(t *testing.T) {
	ctx := context.Background()
	var originCalls atomic.Int64
	origin := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		originCalls.Inc()
		_, _ = io.WriteString(rw, "<html>accounting</html>")
	}))
	defer origin.Close()
	cfgPath := filepath.Join(t.TempDir(), "offlinecache.yml")
	writeTestConfig(t, cfgPath, origin.URL, "accounting-app-v4")
	a, err := newApp(cfgPath)
	require.NoError(t, err)
	defer a.close()
	logger := logtest.NewRecorder()
	a.logger = logger

	_, err = a.storage.Open(ctx, "accounting-app-v3")
	require.NoError(t, err)

	require.NoError(t, a.sync(ctx, "sync-data"))
	entry, found := logger.FindEntry("background sync requested")
	require.True(t, found)
	tag, ok := entry.FindStringField("tag")
	require.True(t, ok)
	require.Equal(t, "sync-data", tag)

	require.NoError(t, a.sync(ctx, "other-tag"))
	require.EqualError(t, a.sync(ctx, ""), "sync tag cannot be empty")

	require.Zero(t, originCalls.Load())
	names, err := a.storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"accounting-app-v3"}, names)
	require.Nil(t, a.registration.Info().Active)
}

func TestApp_UpdateSource(t *testing.T) {
	a, origin := newTestApp(t, "accounting-app-v3")
	require.NoError(t, a.precache(context.Background(), io.Discard))

	updater := swhost.NewUpdater(a.registration, a.updateSource(), logtest.NewRecorder())
	require.NoError(t, updater.Run(context.Background()))
	require.Equal(t, "accounting-app-v3", a.registration.Info().Active.Version)

	writeTestConfig(t, a.cfgPath, origin, "accounting-app-v4")
	require.NoError(t, updater.Run(context.Background()))
	require.Equal(t, "accounting-app-v4", a.registration.Info().Active.Version)

	names, err := a.storage.Keys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"accounting-app-v4"}, names)
}

func TestApp_UpdateSource_FailedInstallations(t *testing.T) {
	ctx := context.Background()
	a, origin := newTestApp(t, "accounting-app-v3")
	require.NoError(t, a.precache(ctx, io.Discard))

	cfg := fmt.Sprintf(`
log:
  level: error
cache:
  version: accounting-app-v4
  scope: %s/
  assets:
    - ./
    - ./missing.js
`, origin)
	require.NoError(t, os.WriteFile(a.cfgPath, []byte(cfg), 0o600))

	updater := swhost.NewUpdater(a.registration, a.updateSource(), logtest.NewRecorder())
	for i := 0; i < 5; i++ {
		require.Error(t, updater.Run(ctx))
	}
	require.Equal(t, "accounting-app-v3", a.registration.Info().Active.Version)

	a.mu.Lock()
	versions := make([]string, 0, len(a.managers))
	for version := range a.managers {
		versions = append(versions, version)
	}
	a.mu.Unlock()
	require.ElementsMatch(t, []string{"accounting-app-v3", "accounting-app-v4"}, versions)
}

func TestAdminClient(t *testing.T) {
	a, _ := newTestApp(t, "accounting-app-v3")
	require.NoError(t, a.precache(context.Background(), io.Discard))

	router := httpserver.NewRouter(httpserver.NewDefaultConfig(), logtest.NewRecorder(), httpserver.RouterOpts{
		Registry: a.registration,
		Storage:  a.storage,
		Updater:  swhost.NewUpdater(a.registration, a.updateSource(), logtest.NewRecorder()),
		Scope:    mustParseScope(t, a.cfg.Cache.Scope),
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	client, err := newAdminClient(srv.Listener.Addr().String(), time.Second, logtest.NewRecorder())
	require.NoError(t, err)

	info, err := client.Registration(context.Background())
	require.NoError(t, err)
	require.Equal(t, "accounting-app-v3", info.Active.Version)

	caches, err := client.Caches(context.Background())
	require.NoError(t, err)
	require.Equal(t, []httpserver.CacheInfo{{Name: "accounting-app-v3", Entries: 2}}, caches)

	info, err = client.Update(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	printInfo(&out, info)
	require.Contains(t, out.String(), "active: accounting-app-v3 (activated, installed ")
	require.Contains(t, out.String(), "waiting: none\n")
	require.Contains(t, out.String(), "clients: 0 (0 controlled)\n")
}

func TestPrintCaches_Empty(t *testing.T) {
	storage, err := cachestorage.NewMemoryStorage(cachestorage.MemoryStorageOpts{})
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, printCaches(context.Background(), &out, storage, false))
	require.Equal(t, "no caches\n", out.String())
}

func mustParseScope(t *testing.T, scope string) *url.URL {
	t.Helper()
	u, err := url.Parse(scope)
	require.NoError(t, err)
	return u
}
