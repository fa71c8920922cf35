/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/acronis/go-offlinecache/log"
)

const maxErrorBodySizeToReport = 255

// NewJSONRequest performs JSON marshaling of the passed data and creates a new http.Request.
// Nil data produces a request without a body.
func NewJSONRequest(method, url string, data interface{}) (*http.Request, error) {
	if data == nil {
		return http.NewRequest(method, url, http.NoBody)
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentTypeAppJSON)
	return req, nil
}

// ClientError describes a failed admin API call. StatusCode is zero when no response was received.
type ClientError struct {
	Method     string
	URL        *url.URL
	StatusCode int
	Stage      string
	Err        error
}

func (e *ClientError) Error() string {
	target := e.Method + " " + e.URL.String()
	if e.StatusCode != 0 {
		target += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err == nil {
		return target + ": " + e.Stage
	}
	return fmt.Sprintf("%s: %s: %v", target, e.Stage, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// DoRequestAndUnmarshalJSON does the request and decodes a 2xx JSON response into result (when it's not nil).
// Failures are returned as *ClientError. It wraps *ErrorResponseData when the server answered with the error envelope.
func DoRequestAndUnmarshalJSON(client *http.Client, req *http.Request, result interface{}, logger log.FieldLogger) error {
	logger = logger.With(log.String("method", req.Method), log.String("uri", req.URL.String()))
	statusCode := 0
	fail := func(stage string, err error) error {
		return &ClientError{Method: req.Method, URL: req.URL, StatusCode: statusCode, Stage: stage, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("http request failed", log.Error(err))
		return fail("do request", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("closing response body failed", log.Error(closeErr))
		}
	}()
	statusCode = resp.StatusCode
	logger.AtLevel(log.LevelDebug, func(logFn log.LogFunc) {
		logFn("got response", log.Int("status", resp.StatusCode))
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(decodeErrorBody(resp.Header.Get("Content-Type"), body))
	}
	if result == nil || len(body) == 0 {
		return nil
	}
	if err = json.Unmarshal(body, result); err != nil {
		return fail("unmarshal response", err)
	}
	return nil
}

// decodeErrorBody extracts the error envelope from a non-2xx response, or a truncated raw body otherwise.
func decodeErrorBody(contentType string, body []byte) (stage string, err error) {
	if !isJSONContentType(contentType) || len(body) == 0 {
		if len(body) > maxErrorBodySizeToReport {
			body = body[:maxErrorBodySizeToReport]
		}
		return "unexpected response", errors.New(string(bytes.TrimSpace(body)))
	}
	var apiErr ErrorResponseData
	if err = json.Unmarshal(body, &apiErr); err != nil {
		return "unmarshal error response", err
	}
	if apiErr.Err == nil {
		return "unmarshal error response", errors.New("no error in response body")
	}
	return "error response", &apiErr
}

func isJSONContentType(value string) bool {
	contentType, _, err := mime.ParseMediaType(value)
	return err == nil && contentType == ContentTypeAppJSON
}
