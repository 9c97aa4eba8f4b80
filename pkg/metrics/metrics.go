// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts source API pages fetched, by resource kind
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metamirror_pages_fetched_total",
			Help: "Total number of source API pages fetched",
		},
		[]string{"kind"},
	)

	// ThrottleRetries counts retries triggered by throttling errors
	ThrottleRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metamirror_throttle_retries_total",
			Help: "Total number of page fetch retries after throttling",
		},
		[]string{"kind"},
	)

	// RecordsNormalized counts raw records successfully normalized
	RecordsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metamirror_records_normalized_total",
			Help: "Total number of raw records normalized into rows",
		},
		[]string{"kind"},
	)

	// RecordsSkipped counts malformed raw records dropped during a run
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metamirror_records_skipped_total",
			Help: "Total number of malformed raw records skipped",
		},
		[]string{"kind"},
	)

	// RowsWritten counts rows persisted to the local store
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metamirror_rows_written_total",
			Help: "Total number of normalized rows written to the local store",
		},
		[]string{"kind", "mode"},
	)

	// SyncDuration observes end-to-end duration of one (kind, scope) sync task
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metamirror_sync_duration_seconds",
			Help:    "Duration of one sync task from fetch to watermark commit",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"kind", "status"},
	)
)
