// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_active",
		Help: "Number of live user sessions in the registry",
	})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_sessions_evicted_total",
		Help: "Sessions evicted by the idle sweeper",
	})

	SessionBinds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_session_binds_total",
		Help: "Session binds by outcome (reused, role_flip, fresh)",
	}, []string{"outcome"})

	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_rooms_created_total",
		Help: "Chat rooms created",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_rooms_active",
		Help: "Chat rooms active at the last directory listing",
	})

	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_appended_total",
		Help: "Messages appended to room transcripts",
	})

	ReactionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_reactions_recorded_total",
		Help: "Reactions upserted into rooms",
	})

	ListenerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_listener_panics_total",
		Help: "Room listener callbacks that panicked and were isolated",
	})

	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_push_events_total",
		Help: "Push events by result (sent, dropped, failed)",
	}, []string{"result"})

	PushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_push_connections",
		Help: "Open websocket push connections",
	})

	JournalWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_journal_writes_total",
		Help: "Durable log appends by backend, record kind and result",
	}, []string{"backend", "kind", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_rate_limited_total",
		Help: "Requests rejected by the per-user rate limiter",
	})
)
