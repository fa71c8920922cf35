/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/acronis/go-offlinecache/httpserver/middleware"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/swhost"
)

// Hop-by-hop headers are not forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyHandler serves application requests through the registration.
// The request path and query are resolved against the application scope.
type ProxyHandler struct {
	roundTripper http.RoundTripper
	scope        *url.URL
	errorDomain  string
	logger       log.FieldLogger
}

// NewProxyHandler creates a new ProxyHandler. Usually roundTripper is *swhost.Registration.
func NewProxyHandler(roundTripper http.RoundTripper, scope *url.URL, errorDomain string, logger log.FieldLogger) *ProxyHandler {
	return &ProxyHandler{roundTripper: roundTripper, scope: scope, errorDomain: errorDomain, logger: logger}
}

// TargetURL returns the URL of the application resource the request addresses.
func (h *ProxyHandler) TargetURL(r *http.Request) *url.URL {
	ref := &url.URL{Path: strings.TrimPrefix(r.URL.Path, "/"), RawQuery: r.URL.RawQuery}
	return h.scope.ResolveReference(ref)
}

func (h *ProxyHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	target := h.TargetURL(r)

	outReq := r.Clone(r.Context())
	outReq.URL = target
	outReq.Host = target.Host
	outReq.RequestURI = ""
	removeHopByHopHeaders(outReq.Header)
	if r.ContentLength == 0 {
		outReq.Body = http.NoBody
	}

	resp, err := h.roundTripper.RoundTrip(outReq)
	if err != nil {
		code := restapi.ErrCodeNetworkUnavailable
		if !errors.Is(err, swhost.ErrNoResponse) {
			logger.Error("proxying request failed", log.String("url", target.String()), log.Error(err))
			code = restapi.ErrCodeBadGateway
		}
		restapi.RespondKnownError(rw, restapi.NewError(h.errorDomain, code, "").AddContext("url", target.String()), logger)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	header := rw.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	removeHopByHopHeaders(header)
	rw.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err = io.Copy(rw, resp.Body); err != nil {
		logger.Warn("copying response body failed", log.String("url", target.String()), log.Error(err))
	}
}

func (h *ProxyHandler) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}

func removeHopByHopHeaders(header http.Header) {
	for _, f := range header.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}
