package extract

import (
	"errors"
	"fmt"
	"time"
)

// The intake pipeline distinguishes five failure kinds so callers can react
// differently: validation failures never reach the network, timeouts suggest
// retrying with a smaller file, aborts are deliberate (skip), remote errors
// carry the collaborator's message, and parse errors flag a success response
// with an unusable body.

// ValidationError reports a file rejected locally before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// TimeoutError reports a locally-enforced deadline expiring.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s; try a smaller file or retry later", e.Op, e.Limit)
}

// AbortedError reports explicit caller cancellation of an in-flight call.
type AbortedError struct {
	Op string
}

func (e *AbortedError) Error() string {
	return e.Op + " aborted"
}

// RemoteError reports a non-success response from a collaborator service.
// Suggestion is a user-facing hint when the remote side provides one.
type RemoteError struct {
	StatusCode int
	Message    string
	Suggestion string
}

func (e *RemoteError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("remote error (status %d): %s (%s)", e.StatusCode, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("remote error (status %d): %s", e.StatusCode, e.Message)
}

// ParseError reports a success response whose body does not match the
// expected shape.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected %s response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsAborted reports whether err is (or wraps) an AbortedError.
func IsAborted(err error) bool {
	var ae *AbortedError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
