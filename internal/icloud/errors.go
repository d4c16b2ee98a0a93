package icloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification, grounded on the
// teacher's graph.ErrXxx set (internal/graph/errors.go), generalized to
// iCloud's status vocabulary. Use errors.Is(err, icloud.ErrNotFound).
var (
	ErrBadRequest     = errors.New("icloud: bad request")
	ErrUnauthorized   = errors.New("icloud: unauthorized")
	ErrForbidden      = errors.New("icloud: forbidden")
	ErrNotFound       = errors.New("icloud: not found")
	ErrGone           = errors.New("icloud: resource gone")
	ErrThrottled      = errors.New("icloud: throttled")
	ErrServerError    = errors.New("icloud: server error")
	ErrMFARequired    = errors.New("icloud: two-factor authentication required")
	ErrBadCredentials = errors.New("icloud: invalid username or password")
)

// ResponseError wraps a sentinel error with the HTTP status code and the
// iCloud error body for debugging, mirroring the teacher's *GraphError.
type ResponseError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("icloud: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for 2xx success codes.
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
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried
// (a narrower set than the sync-level retry in C5 — this is for the single
// request, not the whole sync cycle).
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
