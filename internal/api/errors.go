// Package api is the single entry point for every call to the evaluation
// backend. It attaches credentials, applies timeouts, retries idempotent
// reads, refreshes expired tokens and replays the failed request once, and
// always hands callers a Result envelope instead of a raw error.
package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("api: bad request")
	ErrUnauthorized  = errors.New("api: unauthorized")
	ErrForbidden     = errors.New("api: forbidden")
	ErrNotFound      = errors.New("api: not found")
	ErrConflict      = errors.New("api: conflict")
	ErrTooLarge      = errors.New("api: payload too large")
	ErrUnsupported   = errors.New("api: unsupported media type")
	ErrUnprocessable = errors.New("api: unprocessable entity")
	ErrThrottled     = errors.New("api: throttled")
	ErrServerError   = errors.New("api: server error")
	ErrUnavailable   = errors.New("api: service unavailable")
	ErrUnexpected    = errors.New("api: unexpected status")
)

// Session and transport errors.
var (
	ErrTokenExpired   = errors.New("api: access token expired")
	ErrSessionExpired = errors.New("api: session expired")
	ErrTimeout        = errors.New("api: request timed out")
	ErrNetwork        = errors.New("api: network unreachable")
	ErrBlocked        = errors.New("api: connection blocked")
	ErrCanceled       = errors.New("api: request canceled")
	ErrDecode         = errors.New("api: malformed response")
	ErrDownloadFailed = errors.New("api: download failed")
)

// APIError is a non-2xx response from the backend. Message is the
// presentable text chosen by the lookup tables; ServerMessage is what the
// server actually said, kept for logs.
type APIError struct {
	StatusCode    int
	RequestID     string
	ServerMessage string
	Message       string
	Err           error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.ServerMessage)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.ServerMessage)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidationError is input rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api: invalid %s: %s", e.Field, e.Message)
	}

	return "api: invalid input: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusUnsupportedMediaType:
		return ErrUnsupported
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUnavailable
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			return nil
		}

		return ErrUnexpected
	}
}

// isRetryable reports whether a failed read may be attempted again. Only
// failures of the whole exchange qualify; a response carrying a business
// error is final.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrCanceled):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNetwork):
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		default:
			return apiErr.StatusCode >= http.StatusInternalServerError
		}
	}

	return false
}

// classifyTransport turns an error from http.Client.Do into one of the
// transport sentinels. parent is the caller's context; attemptCtx carries the
// per-request timeout.
func classifyTransport(parent, attemptCtx context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, parent.Err())
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	if isBlocked(err) {
		return fmt.Errorf("%w: %w", ErrBlocked, err)
	}

	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// isBlocked reports TLS and certificate failures: the connection was reached
// but refused by policy, the CLI equivalent of a browser CORS block.
func isBlocked(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
	)

	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr)
}
