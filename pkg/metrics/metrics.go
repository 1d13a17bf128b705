// Package metrics exposes the harvester's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (ratelimit,
// concurrency, client, cache, store, harvest) via promauto.
//
// This package provides the HTTP surface and the metric catalogue.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer serves the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Router returns a chi router serving /metrics and /health.
func Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serve(ctx, ln, logger)
}

func serve(ctx context.Context, ln net.Listener, logger zerolog.Logger) error {
	srv := &http.Server{
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	logger.Info().Msg("Metrics server stopped")
	return nil
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvest_rate_permits_granted_total (Counter): Permits granted by the window limiter
//   - harvest_rate_permit_wait_seconds (Histogram): Time spent waiting for a permit
//
// Concurrency Metrics (pkg/concurrency):
//   - harvest_requests_in_flight (Gauge): Network calls currently holding a slot
//   - harvest_concurrency_waits_total (Counter): Acquisitions that had to wait for a slot
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{status} (Counter): Attempts by HTTP status or transport_error
//   - harvest_request_duration_seconds (Histogram): Attempt duration
//   - harvest_errors_total{class} (Counter): Failed attempts by class
//   - harvest_fetch_cache_hits_total (Counter): Items served from the response cache
//
// Retry Metrics (pkg/client):
//   - harvest_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - harvest_retry_exhausted_total{error_class} (Counter): Items that exhausted their attempts
//
// Cache Metrics (pkg/cache):
//   - harvest_cache_hits_total (Counter): Cache hits
//   - harvest_cache_misses_total (Counter): Cache misses
//   - harvest_cache_size_bytes (Gauge): Bytes written to the cache
//   - harvest_cache_errors_total{operation} (Counter): Cache operation errors
//
// Store Metrics (pkg/store):
//   - harvest_store_rows_written_total (Counter): Rows appended to the CSV output
//   - harvest_store_rows_rejected_total{reason} (Counter): Rejected appends (duplicate, target, closed)
//   - harvest_store_append_duration_seconds (Histogram): Append plus fsync latency
//   - harvest_store_mirror_errors_total{mirror} (Counter): Failed mirror writes
//   - harvest_store_items (Gauge): Items held by the output
//
// Harvest Metrics (pkg/harvest):
//   - harvest_items_dispatched_total (Counter): Ids handed to workers
//   - harvest_items_persisted_total (Counter): Items persisted by this process
//   - harvest_items_failed_total{reason} (Counter): Skipped ids by failure kind
//   - harvest_items_discarded_total (Counter): Late successes rejected at the target
//   - harvest_run_duration_seconds (Histogram): Run wall time
//
// Example Prometheus Queries:
//
//   # Effective request rate (must stay under the configured ceiling)
//   rate(harvest_rate_permits_granted_total[10s])
//
//   # Retry share by class
//   sum by (error_class) (rate(harvest_retries_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
