package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Open websocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_users_online",
			Help: "Users with at least one connection",
		},
	)

	AuthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_auth_total",
			Help: "Authentication attempts",
		},
		[]string{"result"}, // "ok", "failed", "error"
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Inbound events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Dispatch metrics
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_dispatched_total",
			Help: "Messages persisted and broadcast",
		},
		[]string{"room_type", "mode"}, // mode: "immediate", "scheduled"
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_duplicates_suppressed_total",
			Help: "Retransmitted messages dropped by the dedup window",
		},
	)

	BroadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_broadcast_fanout",
			Help:    "Connections reached per room broadcast",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	PropagatedMembers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_propagated_members_total",
			Help: "Connections added to todo rooms from their group room",
		},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_dispatch_duration_seconds",
			Help:    "Time from receipt to broadcast of a message",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"room_type"},
	)

	ScheduledPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_scheduled_tasks_pending",
			Help: "Deferred deliveries, expiries and call timeouts not yet fired",
		},
	)

	// Fan-out metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_notifications_total",
			Help: "Notifications written, by type and delivery",
		},
		[]string{"type", "delivery"}, // delivery: "live", "stored", "failed"
	)

	// Call metrics
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_calls_total",
			Help: "Calls ended, by reason",
		},
		[]string{"reason"},
	)

	CallsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_calls_active",
			Help: "Calls initiating or connected",
		},
	)

	// Ingress metrics
	ServerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_server_events_total",
			Help: "Events received from the REST API",
		},
		[]string{"type"},
	)
)
