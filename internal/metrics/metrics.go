package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Membership metrics
	MembershipOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_membership_operations_total",
			Help: "Membership transitions by operation and result (ok or rejection code)",
		},
		[]string{"op", "result"},
	)

	ConditionalWriteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_conditional_write_retries_total",
			Help: "Conditional writes retried after a concurrent change",
		},
		[]string{"op"},
	)

	ChatMessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_chat_messages_posted_total",
			Help: "Total chat messages posted",
		},
		[]string{"scope"}, // "class" or "studyGroup"
	)

	// Event bus metrics
	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_broadcast_events_total",
			Help: "Room events emitted after commit",
		},
		[]string{"type"},
	)

	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_broadcast_failures_total",
			Help: "Room events that could not be emitted",
		},
		[]string{"type"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyhub_ws_connections",
			Help: "Open websocket connections",
		},
	)

	WSSubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_ws_subscription_changes_total",
			Help: "Room subscribe/unsubscribe commands",
		},
		[]string{"kind", "action"},
	)

	WSSlowClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studyhub_ws_slow_clients_total",
			Help: "Connections closed because their send buffer was full",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_relay_messages_total",
			Help: "Room events relayed through Redis",
		},
		[]string{"direction"}, // "out" or "in"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"},
	)
)
