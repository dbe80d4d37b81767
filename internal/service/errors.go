package service

import (
	"fmt"
	"net/http"
	"time"
)

// AuthError is the caller-facing error contract for all auth flows.
type AuthError struct {
	Code        string
	Description string
	Status      int
	RetryAfter  time.Duration
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newAuthError(code, desc string, status int) *AuthError {
	return &AuthError{Code: code, Description: desc, Status: status}
}

func errInvalidInitData() *AuthError {
	return newAuthError("invalid_init_data", "Chat-app payload could not be verified.", http.StatusUnauthorized)
}

func errInvalidPhone() *AuthError {
	return newAuthError("invalid_phone", "Phone number format is invalid.", http.StatusBadRequest)
}

func errTooManyRequests(retryAfter time.Duration) *AuthError {
	err := newAuthError("too_many_requests", "A code was sent recently. Wait before requesting another.", http.StatusTooManyRequests)
	err.RetryAfter = retryAfter
	return err
}

func errCodeExpired() *AuthError {
	return newAuthError("code_expired", "Code not found or expired. Request a new one.", http.StatusBadRequest)
}

func errInvalidCode() *AuthError {
	return newAuthError("invalid_code", "Wrong code.", http.StatusBadRequest)
}

func errMaxAttempts() *AuthError {
	return newAuthError("max_attempts_exceeded", "Too many wrong attempts. Request a new code.", http.StatusBadRequest)
}

func errUserNotFound() *AuthError {
	return newAuthError("user_not_found", "Current user is unknown or inactive.", http.StatusUnauthorized)
}
