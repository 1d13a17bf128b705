package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_items_dispatched_total",
		Help: "Item ids handed to a worker",
	})

	itemsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_items_persisted_total",
		Help: "Items fetched and appended to the output in this process",
	})

	itemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_items_failed_total",
		Help: "Items skipped by failure kind",
	}, []string{"reason"})

	itemsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_items_discarded_total",
		Help: "Successful fetches rejected by the output after the target was reached",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_run_duration_seconds",
		Help:    "Wall time of a harvest run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
