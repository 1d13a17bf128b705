// Package ratelimit implements the global request rate limit shared by all
// in-flight fetch attempts.
//
// WindowLimiter keeps a log of the most recent grant times and never grants
// more than Calls permits inside any window of length Window. Permits are
// not returned; they expire from the window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for permit accounting.
var (
	permitsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rate_permits_granted_total",
		Help: "Total number of rate limit permits granted",
	})

	permitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_rate_permit_wait_seconds",
		Help:    "Time spent waiting for a rate limit permit",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// WindowLimiter is a sliding-window-log rate limiter. It is safe for
// concurrent use.
type WindowLimiter struct {
	calls  int
	window time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	grants []time.Time // ring buffer of the last `calls` grant times
	head   int         // index of the oldest grant
	size   int

	now     func() time.Time
	onGrant func(time.Time) // test hook, called under mu
}

// NewWindowLimiter creates a limiter granting at most calls permits per window.
func NewWindowLimiter(calls int, window time.Duration, logger zerolog.Logger) (*WindowLimiter, error) {
	if calls <= 0 {
		return nil, fmt.Errorf("calls must be > 0 (got %d)", calls)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0 (got %s)", window)
	}
	return &WindowLimiter{
		calls:  calls,
		window: window,
		logger: logger,
		grants: make([]time.Time, calls),
		now:    time.Now,
	}, nil
}

// Acquire blocks until a permit is available or ctx is done.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	start := l.now()
	for {
		wait, ok := l.tryGrant()
		if ok {
			waited := l.now().Sub(start)
			permitsGrantedTotal.Inc()
			permitWaitSeconds.Observe(waited.Seconds())
			return nil
		}

		l.logger.Debug().
			Dur("wait", wait).
			Msg("Rate window full, waiting for permit")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryGrant records a grant if the window has room. Otherwise it returns how
// long until the oldest grant leaves the window.
func (l *WindowLimiter) tryGrant() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for l.size > 0 && now.Sub(l.grants[l.head]) >= l.window {
		l.head = (l.head + 1) % l.calls
		l.size--
	}

	if l.size < l.calls {
		l.grants[(l.head+l.size)%l.calls] = now
		l.size++
		if l.onGrant != nil {
			l.onGrant(now)
		}
		return 0, true
	}

	return l.grants[l.head].Add(l.window).Sub(now), false
}

// Calls returns the configured permits per window.
func (l *WindowLimiter) Calls() int {
	return l.calls
}

// Window returns the configured window duration.
func (l *WindowLimiter) Window() time.Duration {
	return l.window
}
