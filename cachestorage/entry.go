/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ResponseType describes the origin class of a stored response.
type ResponseType string

// Response types.
const (
	ResponseTypeBasic  ResponseType = "basic"
	ResponseTypeCORS   ResponseType = "cors"
	ResponseTypeOpaque ResponseType = "opaque"
	ResponseTypeError  ResponseType = "error"
)

// RequestKey identifies a cached response inside a bucket.
type RequestKey struct {
	Method string
	URL    string
}

// NewRequestKey builds the key of the request. URL fragment is never part of the key.
func NewRequestKey(req *http.Request) RequestKey {
	return RequestKey{Method: normalizeMethod(req.Method), URL: stripFragment(req.URL)}
}

// String returns the key in "METHOD URL" form.
func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Entry is a snapshot of a response: status, headers and body bytes.
// Entries are never mutated after they are stored.
type Entry struct {
	Method     string       `json:"method"`
	URL        string       `json:"url"`
	StatusCode int          `json:"status"`
	StatusText string       `json:"statusText,omitempty"`
	Header     http.Header  `json:"header,omitempty"`
	Body       []byte       `json:"body,omitempty"`
	Type       ResponseType `json:"type"`
	StoredAt   time.Time    `json:"storedAt"`
}

// NewEntry makes a snapshot of the response to the request. The body must be read by the caller beforehand.
func NewEntry(req *http.Request, resp *http.Response, body []byte, respType ResponseType) *Entry {
	key := NewRequestKey(req)
	return &Entry{
		Method:     key.Method,
		URL:        key.URL,
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       bytes.Clone(body),
		Type:       respType,
		StoredAt:   time.Now().UTC(),
	}
}

// Key returns the request key the entry is stored under.
func (e *Entry) Key() RequestKey {
	return RequestKey{Method: e.Method, URL: e.URL}
}

// Size returns the body size in bytes.
func (e *Entry) Size() int {
	return len(e.Body)
}

// Response builds a new *http.Response from the snapshot.
// Every call returns an independent response with its own header map and body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	statusLine := e.StatusText
	if statusLine == "" {
		statusLine = http.StatusText(e.StatusCode)
	}
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, statusLine),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = bytes.Clone(e.Body)
	return &c
}

func normalizeMethod(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return method
}

func stripFragment(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func statusText(resp *http.Response) string {
	// resp.Status is "200 OK"; keep only the reason phrase.
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if len(resp.Status) > len(prefix) && resp.Status[:len(prefix)] == prefix {
		return resp.Status[len(prefix):]
	}
	return http.StatusText(resp.StatusCode)
}
