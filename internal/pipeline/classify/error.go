package classify

import (
	"fmt"
	"time"
)

// Error is a delivery failure tagged with its classification. The retry
// engine inspects the tag instead of guessing from error strings, and a
// Retry-After hint from the upstream rides along when one was given.
type Error struct {
	Kind       Kind
	Retryable  bool
	StatusCode int
	RetryAfter time.Duration
	Msg        string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Kind, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError builds a classified error from an HTTP response.
func NewError(statusCode int, kind Kind, retryable bool, retryAfter time.Duration, msg string) *Error {
	return &Error{
		Kind:       kind,
		Retryable:  retryable,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
		Msg:        msg,
	}
}

// WrapErr builds a classified error from a transport failure.
func WrapErr(err error) *Error {
	kind, retryable := ClassifyErr(err)
	return &Error{Kind: kind, Retryable: retryable, Msg: err.Error()}
}
