package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the wire fan-out server.
//
// Naming convention: namespace_subsystem_name
// - namespace: relaywire (application-level grouping)
// - subsystem: wire, room, queue, rate_limit, circuit_breaker, webhook (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms)
// - Counter: Cumulative events (frames processed, broadcasts, errors)
// - Histogram: Latency distributions (broadcast fan-out time)

var (
	// ActiveConnections tracks the current number of live wire connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaywire",
		Subsystem: "wire",
		Name:      "connections_active",
		Help:      "Current number of active wire connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaywire",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one member",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaywire",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room"})

	// WireFrames tracks the total number of wire frames processed.
	WireFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "wire",
		Name:      "frames_total",
		Help:      "Total wire frames processed",
	}, []string{"frame_type", "status"})

	// BroadcastDuration tracks the time spent fanning a broadcast out to a room.
	BroadcastDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaywire",
		Subsystem: "room",
		Name:      "broadcast_duration_seconds",
		Help:      "Time spent delivering a broadcast to every room member",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"outcome"})

	// BroadcastsTotal counts broadcast outcomes: "queued" once per broadcast
	// that found its room empty, "delivered" once per member it reached.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "room",
		Name:      "broadcasts_total",
		Help:      "Broadcast outcomes: queued broadcasts and per-member deliveries",
	}, []string{"outcome"})

	// CircuitBreakerState tracks the current state of the offline-queue circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaywire",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// QueueOperationsTotal tracks offline-queue operations by outcome.
	QueueOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "queue",
		Name:      "operations_total",
		Help:      "Total number of offline-queue operations",
	}, []string{"operation", "status"})

	// QueueOperationDuration tracks the duration of offline-queue operations.
	QueueOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relaywire",
		Subsystem: "queue",
		Name:      "operation_duration_seconds",
		Help:      "Duration of offline-queue operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// WebhookDeliveries tracks outbound webhook POST attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaywire",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total outbound webhook delivery attempts",
	}, []string{"status"})
)

// IncConnection increments the active connection gauge.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection decrements the active connection gauge.
func DecConnection() {
	ActiveConnections.Dec()
}
