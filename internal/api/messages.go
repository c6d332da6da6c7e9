package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotLoggedIn is returned when an operation needs a session and none is stored.
var ErrNotLoggedIn = errors.New("api: not logged in")

// Fixed messages for non-HTTP failures.
const (
	msgSessionExpired = "Your session has expired. Please log in again."
	msgNotLoggedIn    = "You are not logged in."
	msgTimeout        = "The request timed out. Please check your connection and try again."
	msgNetwork        = "Unable to reach the server. Please check your internet connection."
	msgBlocked        = "The connection to the server was blocked. Check your proxy or certificate settings."
	msgCanceled       = "The request was canceled."
	msgDecode         = "The server sent a response that could not be read."
	msgDownloadFailed = "Download failed. Please try again or contact support."
	msgUnknown        = "An unexpected error occurred. Please try again."
)

// serverMessages maps fragments of backend error text to presentable
// messages. Matching is case-insensitive substring; the first hit wins, so
// more specific fragments come first.
var serverMessages = []struct {
	fragment string
	message  string
}{
	{"invalid credentials", "Invalid email or password."},
	{"incorrect email or password", "Invalid email or password."},
	{"invalid email or password", "Invalid email or password."},
	{"email already registered", "An account with this email already exists."},
	{"user already exists", "An account with this email already exists."},
	{"email already exists", "An account with this email already exists."},
	{"uppercase letter", "Password must contain at least one uppercase letter."},
	{"lowercase letter", "Password must contain at least one lowercase letter."},
	{"at least one digit", "Password must contain at least one number."},
	{"at least one number", "Password must contain at least one number."},
	{"special character", "Password must contain at least one special character."},
	{"at least 8 characters", "Password must be at least 8 characters long."},
	{"current password is incorrect", "Current password is incorrect."},
	{"incorrect password", "Incorrect password."},
	{"invalid or expired reset token", "This password reset link is invalid or has expired."},
	{"reset token", "This password reset link is invalid or has expired."},
	{"account is disabled", "This account has been deactivated."},
	{"inactive user", "This account has been deactivated."},
	{"not authenticated", "Please log in to continue."},
	{"file too large", "The file is too large. Please upload a smaller file."},
	{"unsupported file type", "Unsupported file type. Please upload a PDF, DOCX, DOC or TXT file."},
	{"invalid file type", "Unsupported file type. Please upload a PDF, DOCX, DOC or TXT file."},
	{"no file", "Please select a file to upload."},
	{"template name already exists", "A template with this name already exists."},
	{"rate limit", "Too many requests. Please wait a moment and try again."},
}

// statusMessages is the fallback when the server text is not recognised.
var statusMessages = map[int]string{
	http.StatusBadRequest:            "Invalid request. Please check your input and try again.",
	http.StatusUnauthorized:          "Authentication failed. Please log in again.",
	http.StatusForbidden:             "You do not have permission to perform this action.",
	http.StatusNotFound:              "Resource not found.",
	http.StatusConflict:              "This action conflicts with the current state of the resource.",
	http.StatusRequestEntityTooLarge: "The file is too large. Please upload a smaller file.",
	http.StatusUnsupportedMediaType:  "Unsupported file type. Please upload a PDF, DOCX, DOC or TXT file.",
	http.StatusUnprocessableEntity:   "Some fields are invalid. Please check your input.",
	http.StatusTooManyRequests:       "Too many requests. Please wait a moment and try again.",
	http.StatusInternalServerError:   "Server error. Please try again later.",
	http.StatusBadGateway:            "Service temporarily unavailable. Please try again later.",
	http.StatusServiceUnavailable:    "Service temporarily unavailable. Please try again later.",
	http.StatusGatewayTimeout:        "Service temporarily unavailable. Please try again later.",
}

// friendlyMessage picks the presentable text for a failed response.
func friendlyMessage(status int, serverText string) string {
	lower := strings.ToLower(serverText)
	for _, m := range serverMessages {
		if strings.Contains(lower, m.fragment) {
			return m.message
		}
	}

	return statusMessage(status)
}

// statusMessage returns the generic message keyed by status code.
func statusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}

	if status >= http.StatusInternalServerError {
		return statusMessages[http.StatusInternalServerError]
	}

	return fmt.Sprintf("Request failed (HTTP %d).", status)
}

// isExpiryMessage reports whether a 401 body says the token expired, as
// opposed to bad credentials.
func isExpiryMessage(serverText string) bool {
	return strings.Contains(strings.ToLower(serverText), "expired")
}

// UserMessage returns the presentable text for any error produced by this
// package. It never returns raw error text for unclassified errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}

	// Session expiry wins over whatever response carried it.
	if errors.Is(err, ErrSessionExpired) {
		return msgSessionExpired
	}

	// The download chain reports one message whatever the last strategy hit.
	if errors.Is(err, ErrDownloadFailed) {
		return msgDownloadFailed
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}

		return statusMessage(apiErr.StatusCode)
	}

	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return msgNotLoggedIn
	case errors.Is(err, ErrCanceled):
		return msgCanceled
	case errors.Is(err, ErrTimeout):
		return msgTimeout
	case errors.Is(err, ErrBlocked):
		return msgBlocked
	case errors.Is(err, ErrNetwork):
		return msgNetwork
	case errors.Is(err, ErrDecode):
		return msgDecode
	default:
		return msgUnknown
	}
}
