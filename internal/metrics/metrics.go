package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "localipc_connections_active",
		Help: "Number of active local socket connections",
	})

	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "localipc_connections_total",
		Help: "Total number of accepted local socket connections",
	})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "localipc_sessions_active",
		Help: "Number of tracked sessions",
	})

	// Connection rejection metrics
	ConnectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_connection_rejected_total",
		Help: "Total number of connections rejected",
	}, []string{"reason"})

	// Message processing
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"direction"})

	// Ancillary data metrics
	AncillaryBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_ancillary_bytes_total",
		Help: "Total bytes of control messages sent or received",
	}, []string{"direction"})

	DescriptorsPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_descriptors_passed_total",
		Help: "Total number of file descriptors passed in SCM_RIGHTS messages",
	}, []string{"direction"})

	AncillaryTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "localipc_ancillary_truncated_total",
		Help: "Total number of receives whose control data was truncated",
	})

	ReserveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_ancillary_reserve_failures_total",
		Help: "Total number of failed ancillary buffer growth attempts",
	}, []string{"reason"})

	// Limbo metrics
	LimboSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "localipc_limbo_slots_occupied",
		Help: "Number of occupied limbo sender slots",
	})

	LimboHandoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_limbo_handoffs_total",
		Help: "Total number of connections handed to limbo by outcome",
	}, []string{"outcome"})

	LimboLingerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "localipc_limbo_linger_seconds",
		Help:    "Time a handed-off connection took to flush and close",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	LimboFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "localipc_limbo_flush_errors_total",
		Help: "Total number of handed-off connections that failed to flush",
	})

	// Configuration refresh metrics
	ConfigReloadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "localipc_config_reload_errors_total",
		Help: "Total number of configuration reload errors",
	})

	// Directory metrics
	DirectoryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localipc_directory_errors_total",
		Help: "Total number of endpoint directory errors",
	}, []string{"op"})

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "localipc_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"endpoint"})
)

// IncConnectionRejected increments the connection rejected counter
func IncConnectionRejected(reason string) {
	ConnectionRejected.WithLabelValues(reason).Inc()
}
