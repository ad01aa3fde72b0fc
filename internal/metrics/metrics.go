package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport
	TransportMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetlink_transport_mode",
			Help: "Active transport (1 for the active mode, 0 otherwise)",
		},
		[]string{"mode"},
	)

	TransportSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_transport_switches_total",
			Help: "Total number of transport changes by destination mode",
		},
		[]string{"mode"},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlink_reconnect_attempts_total",
			Help: "Total number of scheduled WebSocket reconnect attempts",
		},
	)

	PongTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlink_pong_timeouts_total",
			Help: "Total number of liveness pings that went unanswered",
		},
	)

	// Outbound queue
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlink_outbox_depth",
			Help: "Messages waiting for a live transport",
		},
	)

	OutboxDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlink_outbox_dropped_total",
			Help: "Queued messages evicted because the outbox was full",
		},
	)

	// Inbound dispatch
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_messages_received_total",
			Help: "Inbound messages by type",
		},
		[]string{"type"},
	)

	UnknownMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlink_unknown_messages_total",
			Help: "Inbound messages with an unrecognized type",
		},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlink_parse_errors_total",
			Help: "Inbound frames that could not be parsed",
		},
	)

	ListenerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_listener_panics_total",
			Help: "Recovered panics in handlers and listeners by message type",
		},
		[]string{"type"},
	)

	// State-merge guard
	GuardOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_guard_overrides_total",
			Help: "Snapshot values replaced by recent local mutations",
		},
		[]string{"entity"},
	)

	// REST client
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetlink_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlink_poll_errors_total",
			Help: "Failed HTTP polling cycles",
		},
	)

	// Telemetry writer
	WriterInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_writer_inserts_total",
			Help: "Telemetry rows written by table",
		},
		[]string{"table"},
	)

	WriterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlink_writer_errors_total",
			Help: "Failed telemetry batch inserts by table",
		},
		[]string{"table"},
	)
)

// Modes reported by TransportMode.
var transportModes = []string{"websocket", "fallback", "polling", "disconnected"}

// SetTransportMode marks mode as the only active transport.
func SetTransportMode(mode string) {
	for _, m := range transportModes {
		if m == mode {
			TransportMode.WithLabelValues(m).Set(1)
		} else {
			TransportMode.WithLabelValues(m).Set(0)
		}
	}
}
