package authsession

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrInvalidRequest matches HTTP 400 responses.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized matches HTTP 401 responses (bad credentials or token).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmailUnverified matches HTTP 403 responses.
	ErrEmailUnverified = errors.New("email not verified")
	// ErrNotFound matches HTTP 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches HTTP 409 responses.
	ErrConflict = errors.New("conflict")
	// ErrAccountLocked matches HTTP 423 responses.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited matches HTTP 429 responses.
	ErrRateLimited = errors.New("rate limited")
	// ErrServerUnavailable matches HTTP 5xx responses.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrNoSession is returned when an operation needs a session and none is stored.
	ErrNoSession = errors.New("no active session")
	// ErrSessionExpired wraps the cause of a terminal refresh failure.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshThrottled is returned when a refresh was skipped by the
	// minimum refresh interval and no usable token remains.
	ErrRefreshThrottled = errors.New("refresh throttled")
)

// NetworkError reports a call that produced no HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx response or an unsuccessful envelope.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("http %d: %s", e.Status, msg)
}

// Is maps the response status onto the package sentinels so callers can use errors.Is.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrInvalidRequest:
		return e.Status == http.StatusBadRequest
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrEmailUnverified:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrAccountLocked:
		return e.Status == http.StatusLocked
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrServerUnavailable:
		return e.Status >= 500
	}
	return false
}

// ValidationError reports client-side input problems, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidRequest) match local validation failures too.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// IsRetryable reports whether err is transient: no response, 5xx or 429.
// Everything else, including unknown error types, is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == http.StatusTooManyRequests
	}

	return false
}
