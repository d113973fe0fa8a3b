package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recognition_gateway_active_connections",
		Help: "Number of connected clients",
	})

	totalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recognition_gateway_connections_total",
		Help: "Total number of client connections accepted",
	})

	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recognition_gateway_active_sessions",
		Help: "Number of in-flight recognition sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recognition_gateway_sessions_total",
		Help: "Total number of recognition sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recognition_gateway_session_duration_seconds",
		Help:    "Duration of recognition sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	// Audio metrics
	audioFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recognition_gateway_audio_frames_total",
		Help: "Total audio frames forwarded to the provider",
	})

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recognition_gateway_audio_bytes_total",
		Help: "Total audio bytes forwarded to the provider",
	})

	// Provider event metrics
	recognitionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recognition_gateway_recognition_events_total",
		Help: "Total provider recognition events by kind",
	}, []string{"kind"}) // kind: opened, result, completed, error, closed

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recognition_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recognition_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recognition_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordConnectionOpened records a new client connection
func RecordConnectionOpened() {
	activeConnections.Inc()
	totalConnections.Inc()
}

// RecordConnectionClosed records a client disconnect
func RecordConnectionClosed() {
	activeConnections.Dec()
}

// RecordSessionStarted records a new recognition session
func RecordSessionStarted() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnded records session teardown with its lifetime in seconds
func RecordSessionEnded(seconds float64) {
	activeSessions.Dec()
	sessionDuration.Observe(seconds)
}

// RecordAudioFrame records one forwarded audio frame
func RecordAudioFrame(bytes int) {
	audioFrames.Inc()
	audioBytes.Add(float64(bytes))
}

// RecordRecognitionEvent records a provider event by kind
func RecordRecognitionEvent(kind string) {
	recognitionEvents.WithLabelValues(kind).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
