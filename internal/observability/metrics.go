package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Live session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_transcriber_active_sessions",
		Help: "Number of live call sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_sessions_total",
		Help: "Total number of live call sessions",
	}, []string{"vendor"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_transcriber_session_duration_seconds",
		Help:    "Duration of live call sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Recognition metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_segments_total",
		Help: "Total transcript segments emitted",
	}, []string{"source", "kind"}) // source: live|recording, kind: partial|final

	recognizerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_recognizer_requests_total",
		Help: "Total recognition backend requests",
	}, []string{"backend", "status"})

	recognizerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_transcriber_recognizer_latency_seconds",
		Help:    "Recognition backend latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"backend"})

	// Recording job metrics
	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_job_transitions_total",
		Help: "Recording job status transitions",
	}, []string{"status"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_transcriber_active_jobs",
		Help: "Recording jobs not yet in a terminal status",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_transcriber_job_duration_seconds",
		Help:    "Recording job duration from submit to terminal status",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	// Sink metrics
	sinkPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_sink_publishes_total",
		Help: "Transcript sink publish attempts",
	}, []string{"sink", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_transcriber_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transcriber_audio_bytes_total",
		Help: "Total audio bytes received",
	}, []string{"source"})
)

// SessionMetrics tracks metrics for a single live call session
type SessionMetrics struct {
	callID    string
	vendor    string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a call
func NewSessionMetrics(callID, vendor string) *SessionMetrics {
	return &SessionMetrics{
		callID:    callID,
		vendor:    vendor,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.WithLabelValues(m.vendor).Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSegment counts one emitted live segment
func (m *SessionMetrics) RecordSegment(final bool) {
	RecordSegment("live", final)
}

// RecordAudioBytes records audio bytes received on the live channel
func (m *SessionMetrics) RecordAudioBytes(bytes int) {
	audioBytesProcessed.WithLabelValues("live").Add(float64(bytes))
}

// RecordError records an error for this session
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordSegment counts one emitted segment
func RecordSegment(source string, final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	segmentsTotal.WithLabelValues(source, kind).Inc()
}

// RecordRecognizerRequest records one backend request and its latency
func RecordRecognizerRequest(backend string, start time.Time, success bool) {
	recognizerLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	recognizerRequests.WithLabelValues(backend, status).Inc()
}

// RecordJobTransition counts a recording job entering status
func RecordJobTransition(status string) {
	jobTransitions.WithLabelValues(status).Inc()
}

// RecordJobStart marks a recording job as in flight
func RecordJobStart() {
	activeJobs.Inc()
}

// RecordJobEnd records a job reaching a terminal status
func RecordJobEnd(status string, submitted time.Time) {
	activeJobs.Dec()
	jobDuration.WithLabelValues(status).Observe(time.Since(submitted).Seconds())
}

// RecordRecordingBytes records downloaded recording bytes
func RecordRecordingBytes(bytes int64) {
	audioBytesProcessed.WithLabelValues("recording").Add(float64(bytes))
}

// RecordSinkPublish records one sink publish attempt
func RecordSinkPublish(sink string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sinkPublishes.WithLabelValues(sink, status).Inc()
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
