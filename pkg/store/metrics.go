package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_store_rows_written_total",
		Help: "Rows durably appended to the CSV output",
	})

	rowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_store_rows_rejected_total",
		Help: "Append calls rejected by reason",
	}, []string{"reason"}) // "duplicate", "target", "closed"

	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_store_append_duration_seconds",
		Help:    "Time to append and fsync one row",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	mirrorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_store_mirror_errors_total",
		Help: "Failed writes to secondary sinks by mirror",
	}, []string{"mirror"})

	storedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_store_items",
		Help: "Items held by the output, including resumed ones",
	})
)
