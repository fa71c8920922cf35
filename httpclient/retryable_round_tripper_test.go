/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log/logtest"
	"github.com/acronis/go-offlinecache/retry"
)

type recordedRequest struct {
	method       string
	body         string
	retryAttempt string
}

type retryTestServer struct {
	*httptest.Server
	mu        sync.Mutex
	requests  []recordedRequest
	respCodes []int
}

func newRetryTestServer(respCodes ...int) *retryTestServer {
	srv := &retryTestServer{respCodes: respCodes}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		srv.mu.Lock()
		srv.requests = append(srv.requests, recordedRequest{r.Method, string(body), r.Header.Get(RetryAttemptNumberHeader)})
		code := http.StatusOK
		if n := len(srv.requests); n <= len(srv.respCodes) {
			code = srv.respCodes[n-1]
		}
		srv.mu.Unlock()
		rw.WriteHeader(code)
	}))
	return srv
}

func (s *retryTestServer) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func TestRetryableRoundTripper_RoundTrip(t *testing.T) {
	policy := retry.NewConstantPolicy(time.Millisecond, 0)

	tests := []struct {
		name         string
		method       string
		body         string
		ctx          func(context.Context) context.Context
		respCodes    []int
		maxAttempts  int
		wantStatus   int
		wantRequests int
	}{
		{
			name:         "success without retries",
			method:       http.MethodGet,
			wantStatus:   http.StatusOK,
			wantRequests: 1,
		},
		{
			name:         "retry on 503 and 429",
			method:       http.MethodGet,
			respCodes:    []int{http.StatusServiceUnavailable, http.StatusTooManyRequests},
			wantStatus:   http.StatusOK,
			wantRequests: 3,
		},
		{
			name:         "no retry on 404",
			method:       http.MethodGet,
			respCodes:    []int{http.StatusNotFound},
			wantStatus:   http.StatusNotFound,
			wantRequests: 1,
		},
		{
			name:         "no retry on 501",
			method:       http.MethodHead,
			respCodes:    []int{http.StatusNotImplemented},
			wantStatus:   http.StatusNotImplemented,
			wantRequests: 1,
		},
		{
			name:         "max attempts exceeded",
			method:       http.MethodGet,
			respCodes:    []int{500, 500, 500, 500},
			maxAttempts:  2,
			wantStatus:   http.StatusInternalServerError,
			wantRequests: 3,
		},
		{
			name:         "post is not retried",
			method:       http.MethodPost,
			body:         "payload",
			respCodes:    []int{http.StatusBadGateway},
			wantStatus:   http.StatusBadGateway,
			wantRequests: 1,
		},
		{
			name:   "post with idempotent hint is retried with the same body",
			method: http.MethodPost,
			body:   "payload",
			ctx: func(ctx context.Context) context.Context {
				return NewContextWithIdempotentHint(ctx, true)
			},
			respCodes:    []int{http.StatusBadGateway},
			wantStatus:   http.StatusOK,
			wantRequests: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRetryTestServer(tt.respCodes...)
			defer srv.Close()

			rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
				MaxRetryAttempts: tt.maxAttempts,
				BackoffPolicy:    policy,
			})
			require.NoError(t, err)

			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx(ctx)
			}
			var body io.Reader = http.NoBody
			if tt.body != "" {
				// Hide the concrete type so that GetBody is not set and the body has to be buffered.
				body = io.MultiReader(strings.NewReader(tt.body))
			}
			req, err := http.NewRequestWithContext(ctx, tt.method, srv.URL, body)
			require.NoError(t, err)

			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			reqs := srv.Requests()
			require.Len(t, reqs, tt.wantRequests)
			for i, r := range reqs {
				require.Equal(t, tt.method, r.method)
				require.Equal(t, tt.body, r.body)
				if i == 0 {
					require.Empty(t, r.retryAttempt)
				} else {
					require.Equal(t, strconv.Itoa(i), r.retryAttempt)
				}
			}
		})
	}
}

func TestRetryableRoundTripper_RetryAfter(t *testing.T) {
	srv := newRetryTestServer(http.StatusServiceUnavailable)
	defer srv.Close()
	delegate := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(r)
		if err == nil && resp.StatusCode == http.StatusServiceUnavailable {
			resp.Header.Set("Retry-After", "0")
		}
		return resp, err
	})
	rt, err := NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{
		BackoffPolicy: retry.NewConstantPolicy(time.Hour, 0),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, srv.Requests(), 2)
}

func TestRetryableRoundTripper_NetworkErrors(t *testing.T) {
	calls := 0
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	delegate := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, dialErr
		}
		return newTestResponse(r, http.StatusOK), nil
	})
	logRecorder := logtest.NewRecorder()
	rt, err := NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{
		Logger:        logRecorder,
		BackoffPolicy: retry.NewConstantPolicy(time.Millisecond, 0),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://app.example.com/", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 3, calls)
	require.Len(t, logRecorder.Entries(), 2)

	t.Run("permanent error", func(t *testing.T) {
		calls = 0
		permanent := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("certificate is not valid")
		})
		rt, err = NewRetryableRoundTripper(permanent)
		require.NoError(t, err)
		_, err = rt.RoundTrip(req) //nolint:bodyclose
		require.EqualError(t, err, "certificate is not valid")
		require.Equal(t, 1, calls)
	})
}

func TestRetryableRoundTripper_ContextCanceledWhileWaiting(t *testing.T) {
	srv := newRetryTestServer(http.StatusServiceUnavailable)
	defer srv.Close()
	rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
		BackoffPolicy: retry.NewConstantPolicy(time.Hour, 0),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req) //nolint:bodyclose
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, srv.Requests(), 1)
}

func TestNewRetryableRoundTripper_InvalidAttempts(t *testing.T) {
	_, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{MaxRetryAttempts: -1})
	require.EqualError(t, err, "incorrect max retry attempts")
}

func TestMakeRequestBodyRewindable(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "https://app.example.com/", bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	getBody, consumed, err := makeRequestBodyRewindable(req)
	require.NoError(t, err)
	require.False(t, consumed, "bytes.Reader bodies have GetBody")

	for i := 0; i < 2; i++ {
		body, bodyErr := getBody()
		require.NoError(t, bodyErr)
		data, readErr := io.ReadAll(body)
		require.NoError(t, readErr)
		require.Equal(t, "data", string(data))
	}
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter("3")
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)

	_, ok = parseRetryAfter("")
	require.False(t, ok)
	_, ok = parseRetryAfter("-1")
	require.False(t, ok)
	_, ok = parseRetryAfter("soon")
	require.False(t, ok)

	d, ok = parseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	require.True(t, ok)
	require.Greater(t, d, 58*time.Minute)

	d, ok = parseRetryAfter(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	require.True(t, ok)
	require.Zero(t, d)
}

func TestCheckErrorIsTemporary(t *testing.T) {
	require.True(t, CheckErrorIsTemporary(io.EOF))
	require.True(t, CheckErrorIsTemporary(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	require.True(t, CheckErrorIsTemporary(context.DeadlineExceeded))
	require.False(t, CheckErrorIsTemporary(errors.New("x509: unknown authority")))
}
