package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync metrics for monitoring the message synchronization pipeline
var (
	// Optimistic send lifecycle
	MessageSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_message_send_total",
		Help: "Total number of message send attempts",
	}, []string{"outcome"}) // "confirmed", "failed", "rejected", "discarded"

	MessageRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_message_retry_total",
		Help: "Total number of user-initiated retries of failed sends",
	})

	MessageSendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_message_send_duration_seconds",
		Help:    "Time from optimistic append to server confirmation",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Change feed
	FeedEventTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_feed_event_total",
		Help: "Total number of row-change events received",
	}, []string{"table", "kind"})

	FeedEventDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_feed_event_dropped_total",
		Help: "Total number of feed events dropped",
	}, []string{"reason"}) // "duplicate", "unloaded_page", "stale_scope", "decode"

	FeedReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_feed_reconnect_total",
		Help: "Total number of change feed reconnect attempts",
	}, []string{"backend"})

	FeedSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_feed_subscriptions_active",
		Help: "Current number of active change feed subscriptions",
	})

	// View cache
	CachePatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_cache_patch_total",
		Help: "Total number of surgical cache patches applied",
	}, []string{"key"})

	InboxRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_inbox_refresh_total",
		Help: "Total number of full inbox revalidations",
	}, []string{"trigger"}) // "load", "forced", "feed"

	// Read receipts
	ReadMarkTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_read_mark_total",
		Help: "Total number of mark-as-read calls issued",
	}, []string{"status"})
)
