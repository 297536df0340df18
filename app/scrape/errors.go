package scrape

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeFetchFailed      ErrorCode = "FETCH_FAILED"
	CodeContentTooShort  ErrorCode = "CONTENT_TOO_SHORT"
	CodeReadabilityEmpty ErrorCode = "READABILITY_EMPTY"
	CodeInvalidURL       ErrorCode = "INVALID_URL"
)

// Error is the typed failure returned by the scraper. StatusCode is zero
// for network-level failures (no HTTP response at all).
type Error struct {
	Code       ErrorCode
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scrape failed (%s, HTTP %d): %v", e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scrape failed (%s): %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could succeed. Fetch failures
// are retryable for network errors and server-side statuses; malformed or
// too-short content never improves on retry.
func (e *Error) Retryable() bool {
	if e.Code != CodeFetchFailed {
		return false
	}
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newError(code ErrorCode, status int, err error) *Error {
	return &Error{Code: code, StatusCode: status, Err: err}
}
