/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swhost

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-offlinecache/log/logtest"
)

type testHandler struct {
	version     string
	installErr  error
	activateErr error
	skipWaiting bool
	claim       bool

	fetches   atomic.Int32
	noContent bool

	mu       sync.Mutex
	syncTags []string
	events   []string
}

func (h *testHandler) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *testHandler) OnInstall(_ context.Context, e *InstallEvent) error {
	h.record("install")
	if h.installErr != nil {
		return h.installErr
	}
	if h.skipWaiting {
		e.SkipWaiting()
	}
	return nil
}

func (h *testHandler) OnActivate(_ context.Context, e *ActivateEvent) error {
	h.record("activate")
	if h.claim {
		e.Claim()
	}
	return h.activateErr
}

func (h *testHandler) OnFetch(e *FetchEvent) (*http.Response, error) {
	h.fetches.Inc()
	if h.noContent {
		return nil, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Worker-Version": {h.version}},
		Body:       io.NopCloser(strings.NewReader(h.version)),
		Request:    e.Request,
	}, nil
}

func (h *testHandler) OnSync(_ context.Context, e *SyncEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syncTags = append(h.syncTags, e.Tag)
	return nil
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newNetwork(calls *atomic.Int32) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls.Inc()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"X-Source": {"network"}},
			Body:       io.NopCloser(strings.NewReader("network")),
			Request:    req,
		}, nil
	})
}

func clientRequest(clientID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/index.html", nil)
	if clientID != "" {
		req.Header.Set(DefaultClientIDHeader, clientID)
	}
	return req
}

func requireServedBy(t *testing.T, reg *Registration, clientID, version string) {
	t.Helper()
	resp, err := reg.RoundTrip(clientRequest(clientID))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, version, resp.Header.Get("X-Worker-Version"))
}

func TestRegistration_FirstWorkerActivatesImmediately(t *testing.T) {
	logger := logtest.NewRecorder()
	reg := NewRegistration(logger, RegistrationOpts{})
	h := &testHandler{version: "v1"}

	w, err := reg.Register(context.Background(), "v1", h)
	require.NoError(t, err)
	require.Equal(t, StateActivated, reg.State(w))
	require.Equal(t, []string{"install", "activate"}, h.events)

	info := reg.Info()
	require.NotNil(t, info.Active)
	require.Equal(t, "v1", info.Active.Version)
	require.Nil(t, info.Waiting)
	require.Nil(t, info.Installing)

	entry, found := logger.FindEntry("worker activated")
	require.True(t, found)
	version, ok := entry.FindStringField("version")
	require.True(t, ok)
	require.Equal(t, "v1", version)
}

func TestRegistration_InstallFailure(t *testing.T) {
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{})
	_, err := reg.Register(context.Background(), "v1", &testHandler{version: "v1"})
	require.NoError(t, err)

	installErr := errors.New("precache failed")
	w, err := reg.Register(context.Background(), "v2", &testHandler{version: "v2", installErr: installErr, skipWaiting: true})
	require.ErrorIs(t, err, installErr)
	require.Equal(t, StateRedundant, reg.State(w))

	require.Equal(t, "v1", reg.Info().Active.Version)
	requireServedBy(t, reg, "tab-1", "v1")
}

func TestRegistration_WaitingWorker(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{})
	_, err := reg.Register(ctx, "v1", &testHandler{version: "v1"})
	require.NoError(t, err)
	requireServedBy(t, reg, "tab-1", "v1")

	v2, err := reg.Register(ctx, "v2", &testHandler{version: "v2"})
	require.NoError(t, err)
	require.Equal(t, StateInstalled, reg.State(v2))
	require.Equal(t, "v2", reg.Info().Waiting.Version)

	// The existing client stays with the active worker.
	requireServedBy(t, reg, "tab-1", "v1")

	// A newer waiting worker replaces the previous one.
	v3, err := reg.Register(ctx, "v3", &testHandler{version: "v3"})
	require.NoError(t, err)
	require.Equal(t, StateRedundant, reg.State(v2))
	require.Equal(t, "v3", reg.Info().Waiting.Version)

	reg.ReleaseClient(ctx, "tab-1")
	require.Equal(t, StateActivated, reg.State(v3))
	require.Nil(t, reg.Info().Waiting)
	requireServedBy(t, reg, "tab-2", "v3")
}

func TestRegistration_SkipWaitingMovesClients(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{})
	v1, err := reg.Register(ctx, "v1", &testHandler{version: "v1"})
	require.NoError(t, err)
	requireServedBy(t, reg, "tab-1", "v1")

	v2, err := reg.Register(ctx, "v2", &testHandler{version: "v2", skipWaiting: true})
	require.NoError(t, err)
	require.Equal(t, StateActivated, reg.State(v2))
	require.Equal(t, StateRedundant, reg.State(v1))
	requireServedBy(t, reg, "tab-1", "v2")
}

func TestRegistration_Claim(t *testing.T) {
	ctx := context.Background()
	var networkCalls atomic.Int32
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{Network: newNetwork(&networkCalls)})

	// A client loaded before any worker is uncontrolled and goes to the network.
	resp, err := reg.RoundTrip(clientRequest("tab-1"))
	require.NoError(t, err)
	require.Equal(t, "network", resp.Header.Get("X-Source"))
	require.Equal(t, int32(1), networkCalls.Load())

	_, err = reg.Register(ctx, "v1", &testHandler{version: "v1"})
	require.NoError(t, err)
	resp, err = reg.RoundTrip(clientRequest("tab-1"))
	require.NoError(t, err)
	require.Equal(t, "network", resp.Header.Get("X-Source"), "without claim the client stays uncontrolled")
	require.Equal(t, 1, reg.Info().Clients)
	require.Equal(t, 0, reg.Info().ControlledClients)

	_, err = reg.Register(ctx, "v2", &testHandler{version: "v2", skipWaiting: true, claim: true})
	require.NoError(t, err)
	requireServedBy(t, reg, "tab-1", "v2")
	require.Equal(t, 1, reg.Info().ControlledClients)
	require.Equal(t, int32(2), networkCalls.Load())
}

func TestRegistration_ActivateErrorDoesNotBlockActivation(t *testing.T) {
	logger := logtest.NewRecorder()
	reg := NewRegistration(logger, RegistrationOpts{})
	w, err := reg.Register(context.Background(), "v1", &testHandler{version: "v1", activateErr: errors.New("delete failed")})
	require.NoError(t, err)
	require.Equal(t, StateActivated, reg.State(w))
	_, found := logger.FindEntry("worker activation handler failed")
	require.True(t, found)
}

func TestRegistration_RoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{ClientIDHeader: "X-Tab"})
	h := &testHandler{version: "v1", noContent: true}
	_, err := reg.Register(ctx, "v1", h)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	req.Header.Set("X-Tab", "tab-1")
	_, err = reg.RoundTrip(req)
	require.ErrorIs(t, err, ErrNoResponse)
	require.Equal(t, int32(1), h.fetches.Load())

	// Requests without a client id are handled by the active worker too.
	_, err = reg.RoundTrip(httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil))
	require.ErrorIs(t, err, ErrNoResponse)
	require.Equal(t, int32(2), h.fetches.Load())
	require.Equal(t, 1, reg.Info().Clients)
}

func TestRegistration_Sync(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{})
	require.ErrorIs(t, reg.Sync(ctx, "sync-data"), ErrNoActiveWorker)

	h := &testHandler{version: "v1"}
	_, err := reg.Register(ctx, "v1", h)
	require.NoError(t, err)
	require.NoError(t, reg.Sync(ctx, "sync-data"))
	require.Equal(t, []string{"sync-data"}, h.syncTags)
}

func TestRegistration_ConcurrentRoundTrips(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistration(logtest.NewRecorder(), RegistrationOpts{})
	h := &testHandler{version: "v1"}
	_, err := reg.Register(ctx, "v1", h)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := reg.RoundTrip(clientRequest(string(rune('a' + i))))
			if err != nil {
				t.Error(err)
				return
			}
			_ = resp.Body.Close()
		}(i)
	}
	h2 := &testHandler{version: "v2", skipWaiting: true}
	_, err = reg.Register(ctx, "v2", h2)
	require.NoError(t, err)
	wg.Wait()

	require.Equal(t, "v2", reg.Info().Active.Version)
	require.Equal(t, int32(20), h.fetches.Load()+h2.fetches.Load())
	require.Equal(t, 20, reg.Info().ControlledClients)
}
