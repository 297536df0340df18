package llm

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	// CodeRequestFailed covers transport and HTTP-level failures.
	CodeRequestFailed ErrorCode = "REQUEST_FAILED"
	// CodeRefused means the model declined to answer (content filter);
	// retrying the same input will not help.
	CodeRefused ErrorCode = "REFUSED"
	// CodeBadResponse means the model answered but the payload could not
	// be used (malformed JSON, empty choices).
	CodeBadResponse ErrorCode = "BAD_RESPONSE"
)

type Error struct {
	Code       ErrorCode
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm call failed (%s, HTTP %d): %v", e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm call failed (%s): %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-running the call could succeed. Refusals are
// final; malformed responses and transient transport errors are worth
// another attempt within the budget.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeRefused:
		return false
	case CodeBadResponse:
		return true
	}
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newError(code ErrorCode, status int, err error) *Error {
	return &Error{Code: code, StatusCode: status, Err: err}
}
