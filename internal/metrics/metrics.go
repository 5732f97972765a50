// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote file store
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_remote_requests_total",
			Help: "Requests issued to the remote file store",
		},
		[]string{"operation", "result"}, // result: ok, network, application, malformed
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_remote_circuit_state",
			Help: "Remote file store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Sync gateway
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_uploads_total",
			Help: "Upload operations by outcome",
		},
		[]string{"outcome"},
	)

	Deletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_deletes_total",
			Help: "Delete operations by outcome",
		},
		[]string{"outcome"},
	)

	// Auto-sync reconciler
	ReconcileTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_reconcile_ticks_total",
			Help: "Reconciliation ticks by result",
		},
		[]string{"result"}, // ok, error
	)

	ItemsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediasync_items_ingested_total",
			Help: "Media items discovered on the remote store and added to the catalog",
		},
	)

	// Notification bus
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_events_emitted_total",
			Help: "Events emitted on the notification bus",
		},
		[]string{"type"},
	)

	ChannelDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediasync_channel_deliveries_total",
			Help: "Notification channel deliveries by channel and result",
		},
		[]string{"channel", "result"}, // ok, error, skipped
	)

	UnreadEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediasync_unread_events",
			Help: "Unread events in the notification log",
		},
	)
)
