package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for validation failures.
var (
	ErrMissingKeyword = errors.New("missing required parameter: keyword")
	ErrInvalidSort    = errors.New("invalid sort")
	ErrInvalidTime    = errors.New("invalid time range")
	ErrNoMessages     = errors.New("messages array cannot be empty")
	ErrInvalidInput   = errors.New("invalid input")

	// ErrUnavailable marks failures where the upstream is known to be down
	// (e.g. an open circuit breaker). Maps to 503.
	ErrUnavailable = errors.New("upstream unavailable")
)

// ValidationError wraps a sentinel with context. It is the caller's fault
// and maps to 400.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Wrapped)
	}
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Field, e.Wrapped, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// RemoteAPIError is a non-success, non-429 response from an upstream API.
type RemoteAPIError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api error: %d %s", e.StatusCode, e.Status)
}

// Unavailable reports whether the upstream refused us (credentials) or is
// down, as opposed to rejecting this particular request.
func (e *RemoteAPIError) Unavailable() bool {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// RateLimitedError means the upstream kept throttling past the retry budget.
type RateLimitedError struct {
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rate limit exceeded after %d attempts (retry after %s)", e.Attempts, e.RetryAfter)
	}
	return "rate limit exceeded"
}

// ConfigurationError means a required credential is missing or rejected.
// It is raised when the credential is needed, not at startup.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// HTTPStatus maps an error from the search or chat pipeline to the status
// code surfaced at the HTTP boundary.
func HTTPStatus(err error) int {
	var (
		ve  *ValidationError
		rle *RateLimitedError
		ce  *ConfigurationError
		rae *RemoteAPIError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &rle):
		return http.StatusTooManyRequests
	case errors.As(err, &ce):
		return http.StatusUnauthorized
	case errors.As(err, &rae):
		if rae.Unavailable() {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
