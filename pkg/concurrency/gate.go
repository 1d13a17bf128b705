// Package concurrency bounds the number of fetch attempts that hold an
// active network call at the same time.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var (
	gateInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_requests_in_flight",
		Help: "Number of fetch attempts currently holding a concurrency slot",
	})

	gateWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_concurrency_waits_total",
		Help: "Total number of slot acquisitions that had to wait for a free slot",
	})
)

// Gate is a counting semaphore with occupancy tracking.
type Gate struct {
	limit    int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewGate creates a gate admitting at most limit holders.
func NewGate(limit int) (*Gate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("concurrency limit must be > 0 (got %d)", limit)
	}
	return &Gate{
		limit: int64(limit),
		sem:   semaphore.NewWeighted(int64(limit)),
	}, nil
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func must be called exactly once the slot is no longer needed; extra calls
// are no-ops, so it is safe to defer.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if !g.sem.TryAcquire(1) {
		gateWaitsTotal.Inc()
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	n := g.inFlight.Add(1)
	gateInFlight.Inc()
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			gateInFlight.Dec()
			g.sem.Release(1)
		})
	}, nil
}

// Limit returns the configured number of slots.
func (g *Gate) Limit() int {
	return int(g.limit)
}

// InFlight returns the number of slots currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Peak returns the highest number of slots held at once.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}
