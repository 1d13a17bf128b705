package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/client"
	"github.com/Sternrassler/item-harvester/pkg/record"
	"github.com/Sternrassler/item-harvester/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves a single item.
type Fetcher interface {
	Fetch(ctx context.Context, id int) (record.Record, error)
}

// Sink persists fetched items. Append returns the new count, or
// store.ErrTargetReached / store.ErrDuplicate for rejected items.
type Sink interface {
	Append(ctx context.Context, id int, rec record.Record) (int, error)
	Count() int
	Contains(id int) bool
}

// Config holds harvest configuration
type Config struct {
	// Start and End bound the id range, inclusive.
	Start int
	End   int

	// Target is the number of items the sink should hold when the run ends.
	Target int

	// Workers is the number of concurrent fetch workers.
	Workers int

	// ProgressEvery logs progress after this many persisted items (0 disables).
	ProgressEvery int
}

// DefaultConfig returns the default configuration: ids 1..1000, target 1000.
func DefaultConfig() Config {
	return Config{
		Start:         1,
		End:           1000,
		Target:        1000,
		Workers:       10,
		ProgressEvery: 50,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Start < 1 {
		return fmt.Errorf("start must be >= 1 (got %d)", c.Start)
	}
	if c.End < c.Start {
		return fmt.Errorf("end must be >= start (got %d..%d)", c.Start, c.End)
	}
	if c.Target < 1 {
		return fmt.Errorf("target must be >= 1 (got %d)", c.Target)
	}
	return nil
}

// Harvester runs the fetch workers against a sink.
type Harvester struct {
	fetcher Fetcher
	sink    Sink
	config  Config
	logger  zerolog.Logger
}

// New creates a harvester. A non-positive Workers count falls back to 10.
func New(fetcher Fetcher, sink Sink, config Config) *Harvester {
	if config.Workers <= 0 {
		config.Workers = 10
	}
	if config.ProgressEvery < 0 {
		config.ProgressEvery = 0
	}
	return &Harvester{
		fetcher: fetcher,
		sink:    sink,
		config:  config,
		logger:  log.With().Str("component", "harvester").Logger(),
	}
}

// WithLogger replaces the harvester logger.
func (h *Harvester) WithLogger(logger zerolog.Logger) *Harvester {
	h.logger = logger
	return h
}

// tally collects per-run counters shared by the workers.
type tally struct {
	mu         sync.Mutex
	dispatched int
	persisted  int
	discarded  int
	failures   map[string]int
}

func (t *tally) fail(reason string) {
	t.mu.Lock()
	t.failures[reason]++
	t.mu.Unlock()
	itemsFailed.WithLabelValues(reason).Inc()
}

// Run harvests until the sink holds Target items or the range is exhausted.
// Per-item failures are counted in the summary; a storage failure ends the
// run and is returned. A cancelled ctx stops the run and returns ctx.Err()
// alongside the partial summary.
func (h *Harvester) Run(ctx context.Context) (Summary, error) {
	if err := h.config.Validate(); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := h.logger.With().Str("run_id", runID).Logger()

	summary := Summary{
		RunID:     runID,
		Requested: h.config.End - h.config.Start + 1,
		Resumed:   h.sink.Count(),
	}

	logger.Info().
		Int("start", h.config.Start).
		Int("end", h.config.End).
		Int("target", h.config.Target).
		Int("workers", h.config.Workers).
		Int("resumed", summary.Resumed).
		Msg("Starting harvest")

	t := &tally{failures: make(map[string]int)}
	err := h.run(ctx, logger, t)

	summary.Dispatched = t.dispatched
	summary.Persisted = t.persisted
	summary.Discarded = t.discarded
	summary.Failures = t.failures
	summary.Total = h.sink.Count()
	summary.Duration = time.Since(start)
	runDuration.Observe(summary.Duration.Seconds())

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	switch {
	case err == nil:
		logger.Info().EmbedObject(summary).Msg("Harvest complete")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn().EmbedObject(summary).Err(err).Msg("Harvest interrupted")
	default:
		logger.Error().EmbedObject(summary).Err(err).Msg("Harvest aborted")
	}
	return summary, err
}

func (h *Harvester) run(ctx context.Context, logger zerolog.Logger, t *tally) error {
	if h.sink.Count() >= h.config.Target {
		logger.Info().Int("count", h.sink.Count()).Msg("Target already reached; nothing to fetch")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	var stopOnce sync.Once
	stop := make(chan struct{})
	stopDispatch := func() { stopOnce.Do(func() { close(stop) }) }

	queue := make(chan int)

	g.Go(func() error {
		defer close(queue)
		skipped := 0
		for id := h.config.Start; id <= h.config.End; id++ {
			if h.sink.Contains(id) {
				skipped++
				continue
			}
			if h.sink.Count() >= h.config.Target {
				logger.Debug().Int("next_id", id).Msg("Target reached; dispatch stopped")
				return nil
			}
			select {
			case <-stop:
				logger.Debug().Int("next_id", id).Msg("Target reached; dispatch stopped")
				return nil
			case <-gctx.Done():
				return nil
			case queue <- id:
				t.mu.Lock()
				t.dispatched++
				t.mu.Unlock()
				itemsDispatched.Inc()
			}
		}
		if skipped > 0 {
			logger.Debug().Int("skipped", skipped).Msg("Skipped ids already persisted")
		}
		return nil
	})

	for workerID := range h.config.Workers {
		g.Go(func() error {
			return h.worker(gctx, logger, workerID, queue, t, stopDispatch)
		})
	}

	return g.Wait()
}

func (h *Harvester) worker(ctx context.Context, logger zerolog.Logger, workerID int, queue <-chan int, t *tally, stopDispatch func()) error {
	processed := 0
	for id := range queue {
		rec, err := h.fetcher.Fetch(ctx, id)
		if err != nil {
			t.fail(client.FailureLabel(err))
			continue
		}

		n, err := h.sink.Append(ctx, id, rec)
		switch {
		case errors.Is(err, store.ErrTargetReached):
			stopDispatch()
			t.mu.Lock()
			t.discarded++
			t.mu.Unlock()
			itemsDiscarded.Inc()
			logger.Debug().Int("id", id).Msg("Discarding item fetched after target")
			continue
		case errors.Is(err, store.ErrDuplicate):
			t.mu.Lock()
			t.discarded++
			t.mu.Unlock()
			itemsDiscarded.Inc()
			continue
		case err != nil:
			return fmt.Errorf("store item %d: %w", id, err)
		}

		processed++
		itemsPersisted.Inc()
		t.mu.Lock()
		t.persisted++
		persisted := t.persisted
		t.mu.Unlock()

		if n >= h.config.Target {
			stopDispatch()
		}
		if every := h.config.ProgressEvery; every > 0 && persisted%every == 0 {
			logger.Info().
				Int("count", n).
				Int("target", h.config.Target).
				Float64("progress_pct", float64(n)/float64(h.config.Target)*100).
				Msg("Harvest progress")
		}
	}

	if processed > 0 {
		logger.Debug().
			Int("worker_id", workerID).
			Int("items_processed", processed).
			Msg("Worker completed")
	}
	return nil
}
