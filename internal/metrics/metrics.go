package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook Transport Metrics
var (
	// WebhookMessagesTotal tracks webhook callbacks by processing result
	WebhookMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_messages_total",
			Help: "Total webhook callbacks by result (verification/notification/revocation/bad_host/bad_signature/stale/replayed/unknown_subscription/unknown_type/bad_request)",
		},
		[]string{"result"},
	)

	// WebhookLegacyDropsTotal tracks requests hitting the pre-migration callback path
	WebhookLegacyDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_legacy_drops_total",
			Help: "Total requests to the retired callback path, each answered 410 with provider-side cleanup",
		},
	)
)

// Notification Metrics
var (
	// NotificationsDispatchedTotal tracks events handed to the registry for dispatch
	NotificationsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total events handed to the subscription registry (batched payloads count per event)",
		},
	)

	// RevocationsTotal tracks provider-side revocations by reason
	RevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revocations_total",
			Help: "Total subscription revocations by provider reason",
		},
		[]string{"reason"},
	)
)

// WebSocket Transport Metrics
var (
	// SocketSessionsCurrent tracks currently tracked websocket sessions
	SocketSessionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "socket_sessions_current",
			Help: "Number of websocket sessions currently tracked (including ones mid-handshake)",
		},
	)

	// SocketReconnectAttemptsTotal tracks redial attempts after a lost connection
	SocketReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_reconnect_attempts_total",
			Help: "Total websocket redial attempts after a lost connection",
		},
	)

	// SocketKeepaliveExpiriesTotal tracks keepalive watchdog expirations
	SocketKeepaliveExpiriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_keepalive_expiries_total",
			Help: "Total connections dropped because no frame arrived within the keepalive deadline",
		},
	)

	// SocketSessionsLostTotal tracks sessions given up after exhausting reconnect attempts
	SocketSessionsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_sessions_lost_total",
			Help: "Total websocket sessions abandoned after exhausting reconnect attempts",
		},
	)
)

// Circuit Breaker Metrics
var (
	// CircuitBreakerStateChanges counts breaker transitions by component and new state
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState reports the current breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state per component (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Error Metrics
// Note: http_errors_total{type} is provided by internal/errors package
