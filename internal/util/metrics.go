package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_accepted_total",
		Help: "Total number of accepted stock reservations",
	}, []string{"kind"})

	ReservationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_rejected_total",
		Help: "Total number of reservations rejected for insufficient stock",
	}, []string{"kind"})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Total number of cart reservations dropped by TTL expiry",
	})

	StockConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_consumed_total",
		Help: "Total quantity of stock durably consumed on confirmed sales",
	})

	SequenceIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sequence_numbers_issued_total",
		Help: "Total number of order numbers issued",
	})

	SequenceRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sequence_verify_retries_total",
		Help: "Total number of verify-after-write retries",
	})

	SequenceFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sequence_unverified_fallbacks_total",
		Help: "Total number of order numbers issued via the unverified fallback write",
	})

	OrdersOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_opened_total",
		Help: "Total number of tables transitioned from free to occupied",
	})

	OrdersFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_finalized_total",
		Help: "Total number of orders finalized on confirmed payment",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	SyncPushFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_push_failures_total",
		Help: "Total number of remote pushes that fell back to local-only state",
	}, []string{"action"})

	SyncReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_pending_replays_total",
		Help: "Total number of pending actions replayed against the remote",
	})

	SyncPullLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_pull_latency_seconds",
		Help:    "Latency of remote snapshot pulls",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
