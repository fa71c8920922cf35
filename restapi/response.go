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
	"net/http"
	"sort"

	"github.com/acronis/go-offlinecache/log"
)

// ContentTypeAppJSON is the MIME type of all admin API bodies.
const ContentTypeAppJSON = "application/json"

// ErrorResponseData is the {"error": ...} envelope. It's also an error on the client side.
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

func (e *ErrorResponseData) Error() string {
	return fmt.Sprintf("%s error %q: %s", e.Err.Domain, e.Err.Code, e.Err.Message)
}

// RespondJSON responds 200 with JSON-encoded data.
func RespondJSON(rw http.ResponseWriter, respData interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, respData, logger)
}

// RespondCodeAndJSON responds with the status and JSON-encoded data. Nil data means an empty body.
// A Content-Type already set by the handler is kept. HTML characters are not escaped since URLs are common in bodies.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(respData); err != nil {
		logError(logger, "error while marshaling json for response body", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", ContentTypeAppJSON)
	}
	rw.WriteHeader(statusCode)
	if _, err := rw.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		logError(logger, "error while writing response body", err)
	}
}

// RespondError writes the error envelope with the given status, logs the error and counts it in metrics.
func RespondError(rw http.ResponseWriter, httpStatusCode int, err *Error, logger log.FieldLogger) {
	if logger != nil {
		logger.Error("error in response", errorLogFields(err)...)
	}
	if c := loadResponseErrorsCounter(); c != nil {
		c.WithLabelValues(err.Domain, err.Code).Inc()
	}
	RespondCodeAndJSON(rw, httpStatusCode, ErrorResponseData{Err: err}, logger)
}

// RespondKnownError is RespondError with the status taken from the error code.
func RespondKnownError(rw http.ResponseWriter, err *Error, logger log.FieldLogger) {
	RespondError(rw, err.HTTPStatus(), err, logger)
}

func RespondInternalError(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondKnownError(rw, NewInternalError(domain), logger)
}

func RespondMalformedRequestError(rw http.ResponseWriter, domain string, reqErr *MalformedRequestError, logger log.FieldLogger) {
	err := NewError(domain, errorCodeFromHTTPStatus(reqErr.HTTPStatusCode), reqErr.Message)
	RespondError(rw, reqErr.HTTPStatusCode, err, logger)
}

// RespondMalformedRequestOrInternalError responds with the client-side problem if err is a *MalformedRequestError
// and with 500 otherwise.
func RespondMalformedRequestOrInternalError(rw http.ResponseWriter, domain string, err error, logger log.FieldLogger) {
	var reqErr *MalformedRequestError
	if errors.As(err, &reqErr) {
		RespondMalformedRequestError(rw, domain, reqErr, logger)
		return
	}
	logError(logger, "request handling failed", err)
	RespondInternalError(rw, domain, logger)
}

func errorLogFields(err *Error) []log.Field {
	fields := []log.Field{log.String("error_code", err.Code), log.String("error_message", err.Message)}
	if len(err.Context) == 0 {
		return fields
	}
	keys := make([]string, 0, len(err.Context))
	for k := range err.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ctxLines := make([]string, len(keys))
	for i, k := range keys {
		ctxLines[i] = fmt.Sprintf("%s: %v", k, err.Context[k])
	}
	return append(fields, log.Strings("error_context", ctxLines))
}

func logError(logger log.FieldLogger, msg string, err error) {
	if logger != nil {
		logger.Error(msg, log.Error(err))
	}
}
