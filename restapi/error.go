/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"strings"
	"unicode"
)

// Error is the body of the {"error": ...} envelope.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
	Debug   map[string]interface{} `json:"debug,omitempty"`
}

// Error codes the offline cache responds with.
const (
	ErrCodeInternal           = "internalError"
	ErrCodeNotFound           = "notFound"
	ErrCodeMethodNotAllowed   = "methodNotAllowed"
	ErrCodeNetworkUnavailable = "networkUnavailable"
	ErrCodeBadGateway         = "badGateway"
	ErrCodeNoActiveWorker     = "noActiveWorker"
)

type errorKind struct {
	status  int
	message string
}

var knownErrors = map[string]errorKind{
	ErrCodeInternal:           {http.StatusInternalServerError, "Internal error."},
	ErrCodeNotFound:           {http.StatusNotFound, "Not found."},
	ErrCodeMethodNotAllowed:   {http.StatusMethodNotAllowed, "Method not allowed."},
	ErrCodeNetworkUnavailable: {http.StatusGatewayTimeout, "Resource is not cached and the network is unavailable."},
	ErrCodeBadGateway:         {http.StatusBadGateway, "Resource could not be fetched."},
	ErrCodeNoActiveWorker:     {http.StatusConflict, "No active worker."},
}

// NewError creates an Error. An empty message is replaced with the default one for known codes.
func NewError(domain, code, message string) *Error {
	if message == "" {
		message = knownErrors[code].message
	}
	return &Error{Domain: domain, Code: code, Message: message}
}

func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, "")
}

func NewNotFoundError(domain string) *Error {
	return NewError(domain, ErrCodeNotFound, "")
}

// HTTPStatus is the status the error is responded with by RespondKnownError.
// Unknown codes map to 500.
func (e *Error) HTTPStatus() int {
	if kind, ok := knownErrors[e.Code]; ok {
		return kind.status
	}
	return http.StatusInternalServerError
}

// AddContext sets a value clients may rely on (e.g. the URL that could not be fetched).
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[field] = value
	return e
}

// AddDebug sets a value meant for humans only.
func (e *Error) AddDebug(field string, value interface{}) *Error {
	if e.Debug == nil {
		e.Debug = map[string]interface{}{}
	}
	e.Debug[field] = value
	return e
}

// errorCodeFromHTTPStatus makes a lower camel case code from the status text ("Bad Gateway" -> "badGateway").
func errorCodeFromHTTPStatus(status int) string {
	if status == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	words := strings.FieldsFunc(http.StatusText(status), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		if i > 0 && len(runes) > 0 {
			runes[0] = unicode.ToTitle(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, "")
}
