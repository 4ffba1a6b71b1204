// Package metrics registers the Prometheus instruments exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPasses counts finished sync passes by trigger type and final status.
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_sync_passes_total",
			Help: "Total number of sync passes by trigger type and final status.",
		},
		[]string{"type", "status"},
	)

	// SyncPassDuration observes wall-clock duration of sync passes.
	SyncPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsync_sync_pass_duration_seconds",
			Help:    "Duration of sync passes in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// LockBusyRejections counts triggers turned away because a pass was running.
	LockBusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopsync_lock_busy_rejections_total",
			Help: "Total number of triggers rejected while the sync lock was held.",
		},
	)

	// EventsRecorded counts ledger writes by entity type and dedup outcome.
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_events_recorded_total",
			Help: "Total number of domain event writes by entity type and outcome.",
		},
		[]string{"entity", "outcome"},
	)

	// OutboxAttempts counts delivery attempts by destination and outcome.
	OutboxAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_outbox_attempts_total",
			Help: "Total number of outbox delivery attempts by destination and outcome.",
		},
		[]string{"destination", "outcome"},
	)

	// DeliveryDuration observes the latency of connector calls.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsync_delivery_duration_seconds",
			Help:    "Duration of external delivery calls in seconds.",
			Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
		},
		[]string{"destination"},
	)

	// OutboxPending reports the pending queue depth observed by the last sweep.
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopsync_outbox_pending",
			Help: "Number of pending outbox items at the last sweep.",
		},
	)
)
