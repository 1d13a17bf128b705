// Command harvester fetches items 1..N from the item API under a request
// rate ceiling and a concurrency cap, and appends them to a CSV file until
// the target count is reached.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/cache"
	"github.com/Sternrassler/item-harvester/pkg/client"
	"github.com/Sternrassler/item-harvester/pkg/concurrency"
	"github.com/Sternrassler/item-harvester/pkg/config"
	"github.com/Sternrassler/item-harvester/pkg/harvest"
	"github.com/Sternrassler/item-harvester/pkg/logging"
	"github.com/Sternrassler/item-harvester/pkg/metrics"
	"github.com/Sternrassler/item-harvester/pkg/ratelimit"
	"github.com/Sternrassler/item-harvester/pkg/store"
	"github.com/redis/go-redis/v9"
)

// staleLockAfter is how long an abandoned output lock is honoured.
const staleLockAfter = 2 * time.Minute

func main() {
	fs := flag.NewFlagSet("harvester", flag.ExitOnError)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		os.Exit(130)
	default:
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

// run wires the pipeline from cfg and harvests until the target is reached,
// the range is exhausted, ctx is cancelled or storage fails. The completion
// line is written to out in every case where the output was opened.
func run(ctx context.Context, cfg config.Config, out, errOut io.Writer) error {
	logCfg := cfg.Logging()
	logCfg.Output = errOut
	logging.Setup(logCfg)
	logger := logging.NewLogger("harvester")

	limiter, err := ratelimit.NewWindowLimiter(cfg.RateCalls, cfg.RateWindow, logging.NewLogger("rate-limiter"))
	if err != nil {
		return err
	}
	gate, err := concurrency.NewGate(cfg.MaxConcurrency)
	if err != nil {
		return err
	}

	var opts []client.Option
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		manager := cache.NewManager(redisClient, cfg.CacheNamespace(), cfg.CacheTTL)
		if err := manager.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, client.WithCache(manager))
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("Response cache enabled")
	}

	fetchClient, err := client.New(cfg.Client(), limiter, gate, opts...)
	if err != nil {
		return err
	}

	var mirrors []store.Mirror
	if cfg.SQLDSN != "" {
		mirror, err := store.OpenSQL(ctx, cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			return err
		}
		mirrors = append(mirrors, mirror)
		logger.Info().Str("driver", cfg.SQLDriver).Msg("SQL mirror enabled")
	}

	output, err := store.OpenCSV(cfg.Output, store.CSVOptions{
		Limit:          cfg.Target,
		Mirrors:        mirrors,
		StaleLockAfter: staleLockAfter,
	})
	if err != nil {
		for _, m := range mirrors {
			_ = m.Close()
		}
		return err
	}
	defer output.Close()

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	summary, runErr := harvest.New(fetchClient, output, cfg.Harvest()).Run(ctx)

	if err := output.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close output: %w", err)
	}

	fmt.Fprintf(out, "Completed. Total successful items written to %s: %d\n", cfg.Output, summary.Total)
	return runErr
}
