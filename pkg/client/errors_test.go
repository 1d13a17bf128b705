package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error should not retry", errorClass: ErrorClassClient, expected: false},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "timeout should retry", errorClass: ErrorClassTimeout, expected: true},
		{name: "unexpected should not retry", errorClass: ErrorClassUnexpected, expected: false},
		{name: "unknown class should not retry", errorClass: ErrorClass("bogus"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := shouldRetry(tt.errorClass); result != tt.expected {
				t.Errorf("shouldRetry(%s) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FetchError
		want string
	}{
		{
			name: "status failure",
			err: &FetchError{
				ID: 42, Attempts: 3, StatusCode: 503,
				Class: ErrorClassServer, Kind: ErrRetryExhausted,
				Err: errors.New("503 Service Unavailable"),
			},
			want: "item 42: retry attempts exhausted after 3 attempt(s) (server, status 503): 503 Service Unavailable",
		},
		{
			name: "transport failure",
			err: &FetchError{
				ID: 7, Attempts: 3, Class: ErrorClassTimeout, Kind: ErrRetryExhausted,
				Err: errors.New("i/o timeout"),
			},
			want: "item 7: retry attempts exhausted after 3 attempt(s) (timeout): i/o timeout",
		},
		{
			name: "cancelled",
			err:  &FetchError{ID: 1, Attempts: 1, Kind: ErrContextCancelled},
			want: "item 1: context cancelled after 1 attempt(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	cause := errors.New("404 Not Found")
	err := fmt.Errorf("wrapped: %w", &FetchError{ID: 3, Attempts: 1, Kind: ErrNonRetryable, Err: cause})

	if !errors.Is(err, ErrNonRetryable) {
		t.Error("errors.Is(err, ErrNonRetryable) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("errors.Is(err, ErrRetryExhausted) = true")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.ID != 3 {
		t.Errorf("errors.As() = %+v", fetchErr)
	}
}

func TestFailureLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&FetchError{Kind: ErrRetryExhausted}, "retry_exhausted"},
		{&FetchError{Kind: ErrNonRetryable}, "non_retryable"},
		{&FetchError{Kind: ErrUnexpectedResponse}, "unexpected_response"},
		{&FetchError{Kind: ErrContextCancelled}, "cancelled"},
		{errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		if got := FailureLabel(tt.err); got != tt.want {
			t.Errorf("FailureLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
