package protect

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ubv/ubv-transcribe/internal/retry"
)

var (
	// ErrRateLimited means the controller asked us to slow down (HTTP 429).
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers timeouts, 5xx responses and network failures.
	ErrTransient = errors.New("transient error")
	// ErrAuthentication means the credentials were rejected.
	ErrAuthentication = errors.New("authentication failed")
	// ErrMalformedRequest means the controller rejected the request itself.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrNoFootage means the requested interval has no recordings.
	ErrNoFootage = errors.New("no footage in range")
	// ErrCameraNotFound means the camera id is unknown to the controller.
	ErrCameraNotFound = errors.New("camera not found")
)

// APIError is a non-2xx response from the Protect API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the sentinel errors so callers can use
// errors.Is without inspecting codes.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuthentication
	case e.StatusCode == http.StatusNotFound:
		return ErrNoFootage
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500:
		return ErrTransient
	default:
		return ErrMalformedRequest
	}
}

// IsRetryable reports whether a retry could succeed.
func (e *APIError) IsRetryable() bool {
	return errors.Is(e, ErrTransient) || errors.Is(e, ErrRateLimited)
}

// Classify maps client errors to retry dispositions. Anything not explicitly
// transient or rate limited is fatal, including caller cancellation.
func Classify(err error) retry.Class {
	switch {
	case err == nil:
		return retry.Fatal
	case errors.Is(err, ErrRateLimited):
		return retry.RateLimited
	case errors.Is(err, ErrTransient):
		return retry.Retryable
	default:
		return retry.Fatal
	}
}
