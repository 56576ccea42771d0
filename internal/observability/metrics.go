package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribed_active_sessions",
		Help: "Number of active transcription sessions",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribed_sessions_total",
		Help: "Total number of sessions created",
	})

	// Chunk pipeline metrics
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_chunks_total",
		Help: "Total audio chunks by pipeline outcome",
	}, []string{"outcome"}) // processed, filtered, failed, dropped

	chunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribed_chunk_latency_seconds",
		Help:    "End-to-end chunk processing latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribed_session_queue_depth",
		Help: "Depth of the per-session transcription queue",
	}, []string{"session_id"})

	// Backend metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_backend_requests_total",
		Help: "Total transcription backend requests",
	}, []string{"status"}) // success, transient_error, fatal_error

	backendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribed_backend_latency_seconds",
		Help:    "Transcription backend latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	backendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribed_backend_retries_total",
		Help: "Total retried backend calls",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribed_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Rate limiter metrics
	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_rate_limit_rejections_total",
		Help: "Total rate-limited requests",
	}, []string{"category"})

	// Filter metrics
	filterRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_filter_rejections_total",
		Help: "Transcription results rejected by the quality filters",
	}, []string{"reason"}) // low_confidence, duplicate, repetitive

	// Transcript output metrics
	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_transcript_events_total",
		Help: "Transcript events emitted",
	}, []string{"kind"}) // interim, final
)

// RecordSessionStart records a new session
func RecordSessionStart() {
	activeSessions.Inc()
	sessionsTotal.Inc()
}

// RecordSessionEnd records a session ending
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordChunkOutcome records the pipeline outcome for one chunk
func RecordChunkOutcome(outcome string) {
	chunksTotal.WithLabelValues(outcome).Inc()
}

// RecordChunkLatency records end-to-end processing latency for one chunk
func RecordChunkLatency(seconds float64) {
	chunkLatency.Observe(seconds)
}

// SetQueueDepth records the current transcription queue depth for a session
func SetQueueDepth(sessionID string, depth int) {
	queueDepth.WithLabelValues(sessionID).Set(float64(depth))
}

// DropQueueDepth removes the queue gauge for an ended session
func DropQueueDepth(sessionID string) {
	queueDepth.DeleteLabelValues(sessionID)
}

// RecordBackendRequest records a backend call outcome and latency
func RecordBackendRequest(status string, seconds float64) {
	backendRequests.WithLabelValues(status).Inc()
	backendLatency.Observe(seconds)
}

// RecordBackendRetry records one retried backend attempt
func RecordBackendRetry() {
	backendRetries.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordRateLimitRejection records an admission rejection
func RecordRateLimitRejection(category string) {
	rateLimitRejections.WithLabelValues(category).Inc()
}

// RecordFilterRejection records a quality-filter rejection
func RecordFilterRejection(reason string) {
	filterRejections.WithLabelValues(reason).Inc()
}

// RecordTranscriptEvent records an emitted interim or final transcript
func RecordTranscriptEvent(kind string) {
	transcriptEvents.WithLabelValues(kind).Inc()
}
