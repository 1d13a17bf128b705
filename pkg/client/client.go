// Package client fetches items from the remote endpoint under the shared
// rate limit and concurrency cap, retrying transient failures per class.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total item requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "Item request duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_errors_total",
		Help: "Total failed attempts by error class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_fetch_cache_hits_total",
		Help: "Items served from the response cache without a network call",
	})
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// Limiter grants request permits.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Gate bounds concurrent network calls.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Cache stores raw item bodies between runs.
type Cache interface {
	Get(ctx context.Context, id int) ([]byte, error)
	Set(ctx context.Context, id int, body []byte) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the item API; items live at <BaseURL>/item/<id>.
	BaseURL string

	// UserAgent header sent with every request (optional).
	UserAgent string

	// MaxAttempts is the total number of attempts per item, including the first.
	MaxAttempts int

	// Timeout bounds a single attempt (connect, headers and body).
	Timeout time.Duration

	// Backoff is the fixed wait after server, timeout and network failures.
	Backoff time.Duration

	// RetryAfterFallback is used when a 429 carries no usable Retry-After.
	RetryAfterFallback time.Duration

	// MaxRetryAfter caps server-directed waits (0 disables the cap).
	MaxRetryAfter time.Duration
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:            baseURL,
		MaxAttempts:        3,
		Timeout:            5 * time.Second,
		Backoff:            1 * time.Second,
		RetryAfterFallback: 1 * time.Second,
		MaxRetryAfter:      60 * time.Second,
	}
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests. The client is
// copied and never follows redirects.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		copied := *hc
		copied.CheckRedirect = noRedirect
		c.httpClient = &copied
	}
}

// noRedirect hands 3xx responses back to Fetch. A followed redirect would
// bypass the limiter and gate and could return another item's body.
func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// WithCache enables the response cache.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is the fetch-retry engine.
type Client struct {
	httpClient *http.Client
	limiter    Limiter
	gate       Gate
	cache      Cache
	config     Config
	baseURL    string
	logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client. The limiter and gate are shared with every other
// client fetching from the same endpoint.
func New(cfg Config, limiter Limiter, gate Gate, opts ...Option) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("concurrency gate is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	c := &Client{
		httpClient: &http.Client{CheckRedirect: noRedirect},
		limiter:    limiter,
		gate:       gate,
		config:     cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     log.With().Str("component", "fetch-client").Logger(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// attemptResult is the outcome of a single network attempt.
type attemptResult struct {
	status     int
	class      ErrorClass
	body       []byte
	retryAfter string
	err        error
}

// Fetch retrieves one item. It returns the record, or a *FetchError whose
// Kind is one of ErrRetryExhausted, ErrNonRetryable, ErrUnexpectedResponse
// or ErrContextCancelled.
func (c *Client) Fetch(ctx context.Context, id int) (record.Record, error) {
	if rec, ok := c.fromCache(ctx, id); ok {
		return rec, nil
	}

	itemURL := c.baseURL + "/item/" + strconv.Itoa(id)
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		res, err := c.attempt(ctx, itemURL)
		if err != nil {
			return record.Record{}, c.fail(id, attempt, res, ErrContextCancelled, err)
		}

		if res.class == "" {
			rec, err := record.Parse(res.body)
			if err != nil {
				res.class = ErrorClassUnexpected
				errorsTotal.WithLabelValues(string(res.class)).Inc()
				return record.Record{}, c.fail(id, attempt, res, ErrUnexpectedResponse, err)
			}
			if attempt > 1 {
				c.logger.Info().
					Int("id", id).
					Int("attempt", attempt).
					Msg("Item fetched after retry")
			}
			c.toCache(ctx, id, res.body)
			return rec, nil
		}

		errorsTotal.WithLabelValues(string(res.class)).Inc()

		if !shouldRetry(res.class) {
			kind := ErrNonRetryable
			if res.class == ErrorClassUnexpected {
				kind = ErrUnexpectedResponse
			}
			return record.Record{}, c.fail(id, attempt, res, kind, res.err)
		}

		if attempt >= c.config.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(res.class)).Inc()
			return record.Record{}, c.fail(id, attempt, res, ErrRetryExhausted, res.err)
		}

		backoff := c.backoffFor(res.class, res.retryAfter)
		retriesTotal.WithLabelValues(string(res.class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(res.class)).Observe(backoff.Seconds())

		c.logger.Warn().
			Int("id", id).
			Int("status", res.status).
			Str("error_class", string(res.class)).
			Int("attempt", attempt).
			Int("max_attempts", c.config.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Retrying item after backoff")

		// The slot and permit of this attempt are already released here.
		if err := c.sleep(ctx, backoff); err != nil {
			return record.Record{}, c.fail(id, attempt, res, ErrContextCancelled, err)
		}
	}

	// unreachable: the loop always returns on its last attempt
	return record.Record{}, c.fail(id, c.config.MaxAttempts, attemptResult{}, ErrRetryExhausted, nil)
}

// attempt performs one network call holding a rate permit and a
// concurrency slot. The returned error is non-nil only when ctx is done.
func (c *Client) attempt(ctx context.Context, itemURL string) (attemptResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return attemptResult{}, err
	}
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return attemptResult{}, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, itemURL, nil)
	if err != nil {
		return attemptResult{class: ErrorClassUnexpected, err: fmt.Errorf("create request: %w", err)}, nil
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().Str("url", itemURL).Msg("Executing item request")

	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{}, ctx.Err()
		}
		requestsTotal.WithLabelValues("transport_error").Inc()
		return attemptResult{class: classifyTransport(err), err: err}, nil
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{}, ctx.Err()
		}
		return attemptResult{
			status: resp.StatusCode,
			class:  classifyTransport(err),
			err:    fmt.Errorf("read body: %w", err),
		}, nil
	}

	res := attemptResult{
		status:     resp.StatusCode,
		class:      classifyStatus(resp.StatusCode),
		body:       body,
		retryAfter: resp.Header.Get("Retry-After"),
	}
	if res.class != "" {
		res.err = errors.New(resp.Status)
	}
	return res, nil
}

// fail builds the FetchError for a final outcome and logs it.
func (c *Client) fail(id, attempts int, res attemptResult, kind, cause error) error {
	fetchErr := &FetchError{
		ID:         id,
		Attempts:   attempts,
		StatusCode: res.status,
		Class:      res.class,
		Kind:       kind,
		Err:        cause,
	}

	if errors.Is(kind, ErrContextCancelled) {
		c.logger.Debug().Int("id", id).Int("attempt", attempts).Msg("Fetch cancelled")
		return fetchErr
	}

	c.logger.Error().
		Int("id", id).
		Int("status", res.status).
		Str("error_class", string(res.class)).
		Int("attempts", attempts).
		Err(fetchErr).
		Msg("Item skipped")
	return fetchErr
}

func (c *Client) fromCache(ctx context.Context, id int) (record.Record, bool) {
	if c.cache == nil {
		return record.Record{}, false
	}
	body, err := c.cache.Get(ctx, id)
	if err != nil {
		return record.Record{}, false
	}
	rec, err := record.Parse(body)
	if err != nil {
		c.logger.Warn().Err(err).Int("id", id).Msg("Discarding invalid cached item")
		return record.Record{}, false
	}
	cacheHitsTotal.Inc()
	return rec, true
}

func (c *Client) toCache(ctx context.Context, id int, body []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, id, body); err != nil {
		c.logger.Warn().Err(err).Int("id", id).Msg("Failed to cache item")
	}
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}
