// Package config loads harvester settings from HARVEST_* environment
// variables, overridden by command-line flags.
package config

import (
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/client"
	"github.com/Sternrassler/item-harvester/pkg/harvest"
	"github.com/Sternrassler/item-harvester/pkg/logging"
	"github.com/Sternrassler/item-harvester/pkg/store"
	"github.com/caarlos0/env/v11"
)

// Config holds harvester command configuration.
type Config struct {
	BaseURL   string `env:"HARVEST_BASE_URL"   envDefault:"http://127.0.0.1:8000"`
	UserAgent string `env:"HARVEST_USER_AGENT" envDefault:"item-harvester/1.0"`

	RateCalls      int           `env:"HARVEST_RATE_CALLS"      envDefault:"18"`
	RateWindow     time.Duration `env:"HARVEST_RATE_WINDOW"     envDefault:"1s"`
	MaxConcurrency int           `env:"HARVEST_MAX_CONCURRENCY" envDefault:"10"`
	Workers        int           `env:"HARVEST_WORKERS"         envDefault:"10"`

	MaxRetries         int           `env:"HARVEST_MAX_RETRIES"          envDefault:"3"`
	Timeout            time.Duration `env:"HARVEST_TIMEOUT"              envDefault:"5s"`
	Backoff            time.Duration `env:"HARVEST_BACKOFF"              envDefault:"1s"`
	RetryAfterFallback time.Duration `env:"HARVEST_RETRY_AFTER_FALLBACK" envDefault:"1s"`
	MaxRetryAfter      time.Duration `env:"HARVEST_MAX_RETRY_AFTER"      envDefault:"60s"`

	Target        int    `env:"HARVEST_TARGET"         envDefault:"1000"`
	Start         int    `env:"HARVEST_START"          envDefault:"1"`
	End           int    `env:"HARVEST_END"            envDefault:"1000"`
	ProgressEvery int    `env:"HARVEST_PROGRESS_EVERY" envDefault:"50"`
	Output        string `env:"HARVEST_OUTPUT"         envDefault:"items.csv"`

	SQLDriver string `env:"HARVEST_SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN    string `env:"HARVEST_SQL_DSN"`

	RedisAddr string        `env:"HARVEST_REDIS_ADDR"`
	CacheTTL  time.Duration `env:"HARVEST_CACHE_TTL" envDefault:"24h"`

	MetricsAddr string `env:"HARVEST_METRICS_ADDR"`

	LogLevel  string `env:"HARVEST_LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"HARVEST_LOG_PRETTY"`
}

// Load parses the process environment, then flags from args.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	return load(fs, args, env.Options{})
}

// LoadEnviron is Load with an explicit environment instead of the process one.
func LoadEnviron(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	return load(fs, args, env.Options{Environment: environ})
}

func load(fs *flag.FlagSet, args []string, opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "item API base URL")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header")
	fs.IntVar(&cfg.RateCalls, "rate-calls", cfg.RateCalls, "requests allowed per rate window")
	fs.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "rate limit window")
	fs.IntVar(&cfg.MaxConcurrency, "max-concurrency", cfg.MaxConcurrency, "maximum requests in flight")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "fetch workers")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "attempts per item, including the first")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout per attempt")
	fs.DurationVar(&cfg.Backoff, "backoff", cfg.Backoff, "wait after server, timeout and network errors")
	fs.DurationVar(&cfg.RetryAfterFallback, "retry-after-fallback", cfg.RetryAfterFallback, "wait after a 429 without a usable Retry-After")
	fs.DurationVar(&cfg.MaxRetryAfter, "max-retry-after", cfg.MaxRetryAfter, "cap on server-directed waits (0 = none)")
	fs.IntVar(&cfg.Target, "target", cfg.Target, "items to collect")
	fs.IntVar(&cfg.Start, "start", cfg.Start, "first item id")
	fs.IntVar(&cfg.End, "end", cfg.End, "last item id")
	fs.IntVar(&cfg.ProgressEvery, "progress-every", cfg.ProgressEvery, "log progress every N items (0 = off)")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "CSV output path")
	fs.StringVar(&cfg.SQLDriver, "sql-driver", cfg.SQLDriver, "SQL mirror driver (pgx or sqlite)")
	fs.StringVar(&cfg.SQLDSN, "sql-dsn", cfg.SQLDSN, "SQL mirror DSN (empty = no mirror)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the response cache (empty = no cache)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "response cache TTL (0 = no expiry)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for /metrics and /health (empty = off)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable logs")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base url must be an absolute http(s) URL (got %q)", c.BaseURL)
	}
	if c.RateCalls < 1 {
		return fmt.Errorf("rate calls must be >= 1 (got %d)", c.RateCalls)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be > 0 (got %s)", c.RateWindow)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1 (got %d)", c.MaxConcurrency)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1 (got %d)", c.Workers)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1 (got %d)", c.MaxRetries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}
	if c.Backoff < 0 || c.RetryAfterFallback < 0 || c.MaxRetryAfter < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if err := c.Harvest().Validate(); err != nil {
		return err
	}
	if c.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if c.SQLDSN != "" && c.SQLDriver != store.DriverPostgres && c.SQLDriver != store.DriverSQLite {
		return fmt.Errorf("sql driver must be %q or %q (got %q)", store.DriverPostgres, store.DriverSQLite, c.SQLDriver)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative (got %s)", c.CacheTTL)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Client returns the fetch client configuration.
func (c Config) Client() client.Config {
	return client.Config{
		BaseURL:            c.BaseURL,
		UserAgent:          c.UserAgent,
		MaxAttempts:        c.MaxRetries,
		Timeout:            c.Timeout,
		Backoff:            c.Backoff,
		RetryAfterFallback: c.RetryAfterFallback,
		MaxRetryAfter:      c.MaxRetryAfter,
	}
}

// Harvest returns the orchestrator configuration.
func (c Config) Harvest() harvest.Config {
	return harvest.Config{
		Start:         c.Start,
		End:           c.End,
		Target:        c.Target,
		Workers:       c.Workers,
		ProgressEvery: c.ProgressEvery,
	}
}

// Logging returns the logger configuration. Invalid levels fall back to info.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.LogPretty
	return cfg
}

// CacheNamespace scopes cache keys to the configured endpoint.
func (c Config) CacheNamespace() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Host
}
