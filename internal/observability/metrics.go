package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Listening metrics
	activeListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_assistant_active_listeners",
		Help: "Number of speech targets currently listening",
	}, []string{"target"})

	totalListens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_listens_total",
		Help: "Total number of listening sessions started",
	}, []string{"target", "engine"})

	listenDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_assistant_listen_duration_seconds",
		Help:    "Duration of listening sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Engine metrics
	engineStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_engine_starts_total",
		Help: "Total number of speech engine start attempts",
	}, []string{"engine", "status"})

	engineStartLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_assistant_engine_start_latency_seconds",
		Help:    "Time from start request to engine listening",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 12.0},
	}, []string{"engine"})

	engineRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_engine_restarts_total",
		Help: "Total number of automatic recognizer restarts",
	}, []string{"reason"})

	transcriptFinals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_transcript_finals_total",
		Help: "Total number of final transcript chunks committed",
	}, []string{"target"})

	lowVolumeWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_assistant_low_volume_warnings_total",
		Help: "Total number of low input volume warnings raised",
	})

	// Upstream metrics
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_upstream_requests_total",
		Help: "Total number of upstream API requests",
	}, []string{"service", "status"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_assistant_upstream_latency_seconds",
		Help:    "Upstream API latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"service"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_assistant_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_assistant_audio_bytes_total",
		Help: "Total audio bytes streamed to speech engines",
	}, []string{"engine"})
)

// Metrics tracks metrics for a single listening session
type Metrics struct {
	target     string
	engine     string
	startTime  time.Time
	engineTime time.Time
	mu         sync.Mutex
}

// NewListenMetrics creates a metrics tracker for one listening session
func NewListenMetrics(target, engine string) *Metrics {
	return &Metrics{
		target:    target,
		engine:    engine,
		startTime: time.Now(),
	}
}

// RecordListenStart records that a target began listening
func (m *Metrics) RecordListenStart() {
	activeListeners.WithLabelValues(m.target).Inc()
	totalListens.WithLabelValues(m.target, m.engine).Inc()
}

// RecordListenEnd records that the target stopped listening
func (m *Metrics) RecordListenEnd() {
	activeListeners.WithLabelValues(m.target).Dec()
	listenDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordEngineStart marks the beginning of an engine start attempt
func (m *Metrics) RecordEngineStart() {
	m.mu.Lock()
	m.engineTime = time.Now()
	m.mu.Unlock()
}

// RecordEngineEnd records the outcome of the engine start attempt
func (m *Metrics) RecordEngineEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.engineTime.IsZero() && success {
		engineStartLatency.WithLabelValues(m.engine).Observe(time.Since(m.engineTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	engineStarts.WithLabelValues(m.engine, status).Inc()
}

// RecordFinal records a committed final transcript chunk
func (m *Metrics) RecordFinal() {
	transcriptFinals.WithLabelValues(m.target).Inc()
}

// RecordError records an error outside of a listening session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordEngineRestart records an automatic recognizer restart
func RecordEngineRestart(reason string) {
	engineRestarts.WithLabelValues(reason).Inc()
}

// RecordLowVolumeWarning records a raised low-volume warning
func RecordLowVolumeWarning() {
	lowVolumeWarnings.Inc()
}

// RecordUpstream records one upstream call to service
func RecordUpstream(service string, started time.Time, success bool) {
	upstreamLatency.WithLabelValues(service).Observe(time.Since(started).Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	upstreamRequests.WithLabelValues(service, status).Inc()
}

// RecordAudioBytes records audio bytes streamed to an engine
func RecordAudioBytes(engine string, bytes int64) {
	audioBytesProcessed.WithLabelValues(engine).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
