// Package metrics holds the process-wide Prometheus collectors. Collectors
// are registered on the default registry via promauto and exposed by the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "bids_placed_total",
		Help:      "Bids accepted, by outcome (winning, outbid).",
	}, []string{"outcome"})

	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "bids_rejected_total",
		Help:      "Bids rejected, by error code.",
	}, []string{"code"})

	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "auction",
		Name:      "bid_duration_seconds",
		Help:      "End-to-end placeBid latency including lock wait.",
		Buckets:   prometheus.DefBuckets,
	})

	AuctionsByTransition = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "lifecycle_transitions_total",
		Help:      "Lifecycle transitions (created, started, ended, unsold, cancelled).",
	}, []string{"transition"})

	BidsRetracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "bids_retracted_total",
		Help:      "Winning bids retracted.",
	})

	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "lock_attempts_total",
		Help:      "Keyed-lock acquisition attempts by result (acquired, retried, busy, expired).",
	}, []string{"result"})

	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "scheduler_ticks_total",
		Help:      "Scheduler ticks executed.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "events_published_total",
		Help:      "Events published to the bus, by type.",
	}, []string{"type"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "auction",
		Name:      "websocket_connections",
		Help:      "Currently connected websocket clients.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "auction",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
