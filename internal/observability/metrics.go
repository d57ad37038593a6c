// Package observability provides Prometheus metrics, health checks, and logging.
//
// Uses github.com/prometheus/client_golang - the official Prometheus client.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ordersync service.
// Metrics are automatically registered via promauto.
//
// Key metrics for monitoring:
//   - realtime_connection_status: 0=disconnected, 1=connecting, 2=connected
//   - realtime_reconnects_total: channel churn (alerts when climbing)
//   - circuit_breaker_state: backend resource health (0=ok, 2=failing)
//   - recovery_exhausted_total: orders needing manual attention
type Metrics struct {
	RealtimeEvents     *prometheus.CounterVec
	RealtimeReconnects prometheus.Counter
	ConnectionStatus   *prometheus.GaugeVec
	CacheInvalidations prometheus.Counter

	RetryAttempts *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	RecoveryRecovered prometheus.Counter
	RecoveryFailed    prometheus.Counter
	RecoveryThrottled prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// The namespace prefixes all metric names (e.g. "ordersync_realtime_events_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RealtimeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Total change events received, by stream and change type",
		}, []string{"stream", "type"}),
		RealtimeReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Total reconnect attempts of the realtime channel",
		}),
		ConnectionStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connection_status",
			Help:      "Connection status per channel (0=disconnected, 1=connecting, 2=connected)",
		}, []string{"channel"}),
		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total query-cache invalidations triggered by change events",
		}),

		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts, by backend resource",
		}, []string{"resource"}),

		CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"resource"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of times circuit breaker tripped to open state",
		}, []string{"resource"}),

		RecoveryRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_recovered_total",
			Help:      "Orders whose delivery schedule was successfully recovered",
		}),
		RecoveryFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_failed_total",
			Help:      "Order schedule recovery attempts that failed",
		}),
		RecoveryThrottled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_exhausted_total",
			Help:      "Orders skipped because the recovery throttle was exhausted",
		}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// BreakerStateValue maps a breaker state name onto the gauge encoding.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// ConnectionStatusValue maps a connection status onto the gauge encoding.
func ConnectionStatusValue(status string) float64 {
	switch status {
	case "connecting":
		return 1
	case "connected":
		return 2
	default:
		return 0
	}
}
