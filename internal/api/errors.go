package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the sync core reacts to.
var (
	ErrInvalidURL          = errors.New("api: invalid server url")
	ErrInvalidResponse     = errors.New("api: invalid server response")
	ErrUnauthorized        = errors.New("api: unauthorized")
	ErrMissingRefreshToken = errors.New("api: refresh token not available")
)

// ServerError is a non-auth HTTP failure (4xx/5xx). It is surfaced to the
// caller immediately and never retried through the operation queue.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api: server error (%d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("api: server error (%d)", e.Status)
}

// DecodeError marks a response body that could not be decoded. It indicates
// a protocol mismatch, not a transient condition, so it is never retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("api: decode response: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// ConnectivityError wraps transport-level failures (no route, timeout, DNS).
// These are the only failures the reconciliation engine defers and retries.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return fmt.Sprintf("api: network failure: %v", e.Err) }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// RefreshError reports a failed token refresh; the caller should surface a
// sign-in requirement rather than retry.
type RefreshError struct {
	Message string
}

func (e *RefreshError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: could not refresh session: %s", e.Message)
	}
	return "api: could not refresh session"
}

// IsConnectivity reports whether err is a retryable transport failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is an HTTP 404, used to treat deletes of
// already-gone records as success.
func IsNotFound(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == 404
}
