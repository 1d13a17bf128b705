package client

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// classifyStatus maps a response status to an error class. A 200 returns
// the empty class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusOK:
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500 && status < 600:
		return ErrorClassServer
	case status >= 400 && status < 500:
		return ErrorClassClient
	default:
		return ErrorClassUnexpected
	}
}

// classifyTransport maps a transport error to timeout or network.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

// backoffFor returns how long to wait before the next attempt. Rate-limited
// attempts follow the server's Retry-After hint; every other retryable class
// waits the fixed backoff.
func (c *Client) backoffFor(class ErrorClass, retryAfter string) time.Duration {
	if class == ErrorClassRateLimit {
		return parseRetryAfter(retryAfter, c.config.RetryAfterFallback, c.config.MaxRetryAfter, time.Now())
	}
	return c.config.Backoff
}

// parseRetryAfter reads a Retry-After value given as integer or fractional
// seconds, or as an HTTP date. Missing or invalid values yield fallback.
// A positive ceiling caps the result.
func parseRetryAfter(value string, fallback, ceiling time.Duration, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}

	var d time.Duration
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return fallback
		}
		d = time.Duration(secs * float64(time.Second))
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
		if d < 0 {
			d = 0
		}
	} else {
		return fallback
	}

	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
