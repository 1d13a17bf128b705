package client

import (
	"errors"
	"fmt"
)

// Failure kinds returned by Fetch. Match them with errors.Is.
var (
	// ErrRetryExhausted is returned when a transient failure persists for
	// every allowed attempt.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrNonRetryable is returned for 4xx responses other than 429.
	ErrNonRetryable = errors.New("non-retryable client error")

	// ErrUnexpectedResponse is returned for unclassified status codes and
	// 200 responses whose body is not a valid record.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrContextCancelled is returned when the context is cancelled during a fetch.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of a failed attempt.
type ErrorClass string

const (
	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassTimeout represents attempts that hit the per-attempt timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassNetwork represents other transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents 4xx client errors except 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassUnexpected represents any other status or a malformed body.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// FetchError describes why an item could not be fetched.
type FetchError struct {
	ID         int
	Attempts   int
	StatusCode int
	Class      ErrorClass
	Kind       error
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("item %d: %v after %d attempt(s)", e.ID, e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%s, status %d)", e.Class, e.StatusCode)
	} else if e.Class != "" {
		msg += fmt.Sprintf(" (%s)", e.Class)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// FailureLabel returns a short metric/summary label for a Fetch error.
func FailureLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, ErrNonRetryable):
		return "non_retryable"
	case errors.Is(err, ErrUnexpectedResponse):
		return "unexpected_response"
	case errors.Is(err, ErrContextCancelled):
		return "cancelled"
	default:
		return "unknown"
	}
}

// shouldRetry determines if an error class should be retried.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassTimeout, ErrorClassNetwork:
		return true
	case ErrorClassClient:
		// retrying a 4xx only burns rate budget
		return false
	default:
		return false
	}
}
