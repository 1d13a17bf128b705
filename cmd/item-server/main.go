// Command item-server serves the fake item API for local harvester runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/item-harvester/internal/fakeapi"
	"github.com/Sternrassler/item-harvester/pkg/logging"
	"github.com/caarlos0/env/v11"
)

// Config holds item-server configuration.
type Config struct {
	Addr         string        `env:"ITEM_SERVER_ADDR"          envDefault:"127.0.0.1:8000"`
	MaxID        int           `env:"ITEM_SERVER_MAX_ID"        envDefault:"10000"`
	Rate         float64       `env:"ITEM_SERVER_RATE"          envDefault:"20"`
	Burst        int           `env:"ITEM_SERVER_BURST"         envDefault:"20"`
	RetryAfter   time.Duration `env:"ITEM_SERVER_RETRY_AFTER"`
	ErrorRate    float64       `env:"ITEM_SERVER_ERROR_RATE"    envDefault:"0.05"`
	SlowRate     float64       `env:"ITEM_SERVER_SLOW_RATE"     envDefault:"0.02"`
	SlowDelay    time.Duration `env:"ITEM_SERVER_SLOW_DELAY"    envDefault:"6s"`
	MissingEvery int           `env:"ITEM_SERVER_MISSING_EVERY" envDefault:"97"`
	Seed         uint64        `env:"ITEM_SERVER_SEED"          envDefault:"1"`
	LogLevel     string        `env:"ITEM_SERVER_LOG_LEVEL"     envDefault:"info"`
}

// ParseConfig parses env then flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.IntVar(&cfg.MaxID, "max-id", cfg.MaxID, "highest existing item id")
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "requests per second before answering 429 (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", cfg.Burst, "requests allowed at once")
	fs.DurationVar(&cfg.RetryAfter, "retry-after", cfg.RetryAfter, "fixed Retry-After for 429 (0 = derived)")
	fs.Float64Var(&cfg.ErrorRate, "error-rate", cfg.ErrorRate, "probability of a 500")
	fs.Float64Var(&cfg.SlowRate, "slow-rate", cfg.SlowRate, "probability of a delayed response")
	fs.DurationVar(&cfg.SlowDelay, "slow-delay", cfg.SlowDelay, "delay of slow responses")
	fs.IntVar(&cfg.MissingEvery, "missing-every", cfg.MissingEvery, "every n-th id returns 404 (0 = none)")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "fault injection seed")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func main() {
	cfg, err := ParseConfig(flag.NewFlagSet("item-server", flag.ExitOnError), os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "item-server: %v\n", err)
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = true
	logging.Setup(logCfg)
	logger := logging.NewLogger("item-server")

	api := fakeapi.New(fakeapi.Config{
		MaxID:        cfg.MaxID,
		Rate:         cfg.Rate,
		Burst:        cfg.Burst,
		RetryAfter:   cfg.RetryAfter,
		ErrorRate:    cfg.ErrorRate,
		SlowRate:     cfg.SlowRate,
		SlowDelay:    cfg.SlowDelay,
		MissingEvery: cfg.MissingEvery,
		Seed:         cfg.Seed,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Float64("rate", cfg.Rate).
			Float64("error_rate", cfg.ErrorRate).
			Msg("Starting item server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	served, throttled, failed := api.Stats()
	logger.Info().
		Int64("served", served).
		Int64("throttled", throttled).
		Int64("failed", failed).
		Msg("Server stopped")
}
