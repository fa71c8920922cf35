/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/swhost"
)

const testErrDomain = "TestOfflineCache"

type fakeRegistry struct {
	roundTrip func(req *http.Request) (*http.Response, error)
	info      swhost.Info
	syncErr   error

	mu       sync.Mutex
	requests []*http.Request
	syncTags []string
	released []string
}

func (f *fakeRegistry) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.roundTrip(req)
}

func (f *fakeRegistry) Info() swhost.Info {
	return f.info
}

func (f *fakeRegistry) Sync(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncTags = append(f.syncTags, tag)
	return f.syncErr
}

func (f *fakeRegistry) ReleaseClient(_ context.Context, clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, clientID)
}

type updaterFunc func(ctx context.Context) error

func (f updaterFunc) Run(ctx context.Context) error {
	return f(ctx)
}

func mustParseURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func newTestStorage(t *testing.T, buckets map[string][]string) *cachestorage.MemoryStorage {
	t.Helper()
	storage, err := cachestorage.NewMemoryStorage(cachestorage.MemoryStorageOpts{})
	require.NoError(t, err)
	for _, name := range []string{"accounting-app-v2", "accounting-app-v3"} {
		urls, ok := buckets[name]
		if !ok {
			continue
		}
		bucket, err := storage.Open(context.Background(), name)
		require.NoError(t, err)
		for _, u := range urls {
			require.NoError(t, bucket.Put(context.Background(), &cachestorage.Entry{
				Method: http.MethodGet, URL: u, StatusCode: http.StatusOK, Body: []byte("cached"),
				Type: cachestorage.ResponseTypeBasic,
			}))
		}
	}
	return storage
}
