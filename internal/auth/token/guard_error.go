package token

import (
	"fmt"
	"net/http"
	"time"
)

// GuardCode is the machine-readable reason a request was refused.
type GuardCode string

const (
	CodeAccountNotFound             GuardCode = "ACCOUNT_NOT_FOUND"
	CodeTokenExpired                GuardCode = "TOKEN_EXPIRED"
	CodeNoOAuthCredentials          GuardCode = "NO_OAUTH_CREDENTIALS"
	CodeTokenRefreshFailed          GuardCode = "TOKEN_REFRESH_FAILED"
	CodeTokenRefreshError           GuardCode = "TOKEN_REFRESH_ERROR"
	CodeTokenAboutToExpireNoRefresh GuardCode = "TOKEN_ABOUT_TO_EXPIRE_NO_AUTO_REFRESH"
	CodeTokenValidationFailed       GuardCode = "TOKEN_VALIDATION_FAILED"
)

// GuardError is a terminal, user-facing failure of EnsureFresh.
type GuardError struct {
	Status       int
	Code         GuardCode
	Message      string
	TimeToExpiry *time.Duration // set for expiry-related failures
	Err          error
}

func (e *GuardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GuardError) Unwrap() error { return e.Err }

func errAccountNotFound(err error) *GuardError {
	return &GuardError{
		Status:  http.StatusNotFound,
		Code:    CodeAccountNotFound,
		Message: "Account not found",
		Err:     err,
	}
}

func errValidationFailed(err error) *GuardError {
	return &GuardError{
		Status:  http.StatusInternalServerError,
		Code:    CodeTokenValidationFailed,
		Message: "Failed to validate token",
		Err:     err,
	}
}

func errUnauthorized(code GuardCode, msg string, ttl time.Duration, err error) *GuardError {
	return &GuardError{
		Status:       http.StatusUnauthorized,
		Code:         code,
		Message:      msg,
		TimeToExpiry: &ttl,
		Err:          err,
	}
}
