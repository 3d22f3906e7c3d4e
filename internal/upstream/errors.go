package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType is the stable vocabulary every caller sees for upstream failures.
type ErrorType string

const (
	ErrAuthentication ErrorType = "AUTHENTICATION_ERROR"
	ErrAuthorization  ErrorType = "AUTHORIZATION_ERROR"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrRateLimit      ErrorType = "RATE_LIMIT"
	ErrServer         ErrorType = "SERVER_ERROR"
	ErrAPI            ErrorType = "API_ERROR"

	// ErrInternal is a local fault (account store, client construction); the
	// marketplace was never called.
	ErrInternal ErrorType = "INTERNAL_ERROR"
)

// APIError is a raw non-2xx answer from the marketplace API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string // upstream "error" field, if any
	Body       []byte
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// NormalizedError is what the executor hands back for any failed operation.
type NormalizedError struct {
	Type       ErrorType
	Message    string
	StatusCode int       // 0 when the call never got an HTTP answer
	APIError   *APIError // nil for transport faults
	RetryAfter time.Duration
	cause      error
}

func (e *NormalizedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *NormalizedError) Unwrap() error { return e.cause }

// HTTPStatus is the status a route handler should answer with.
func (e *NormalizedError) HTTPStatus() int {
	switch e.Type {
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrAuthorization:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Normalize maps any failure to a NormalizedError. An error that already is (or
// wraps) a NormalizedError comes back as that same value, so nested executors
// never double-wrap.
func Normalize(err error) *NormalizedError {
	if err == nil {
		return nil
	}
	var normalized *NormalizedError
	if errors.As(err, &normalized) {
		return normalized
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &NormalizedError{
			Type:       TypeForStatus(apiErr.StatusCode),
			Message:    msg,
			StatusCode: apiErr.StatusCode,
			APIError:   apiErr,
			RetryAfter: apiErr.RetryAfter,
			cause:      err,
		}
	}

	return &NormalizedError{
		Type:    ErrAPI,
		Message: err.Error(),
		cause:   err,
	}
}

func internalError(msg string, cause error) *NormalizedError {
	return &NormalizedError{Type: ErrInternal, Message: msg, cause: cause}
}

// TypeForStatus is the status-code half of Normalize.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuthentication
	case status == http.StatusForbidden:
		return ErrAuthorization
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status >= 500:
		return ErrServer
	default:
		return ErrAPI
	}
}
