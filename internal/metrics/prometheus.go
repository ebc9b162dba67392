package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming speech service.
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEvicted  prometheus.Counter
	SessionsFinished prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Pipeline metrics
	ChunksProcessed    prometheus.Counter
	BatchesProcessed   prometheus.Counter
	ProcessingDuration prometheus.Histogram
	SpeechSegments     prometheus.Counter
	SpeechRatio        prometheus.Histogram
	PreconditionErrors prometheus.Counter
	InferenceErrors    prometheus.Counter

	// ASR client metrics
	ASRRequests  prometheus.Counter
	ASRSuccesses prometheus.Counter
	ASRFailures  prometheus.Counter
	ASRRetries   prometheus.Counter
	ASRDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	// WebSocket streaming metrics
	WSConnections    prometheus.Gauge
	WSFramesReceived prometheus.Counter
	WSSegmentsSent   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "diart_active_sessions",
			Help: "Current number of active streaming sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_sessions_created_total",
			Help: "Total number of streaming sessions created",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_sessions_evicted_total",
			Help: "Total number of sessions evicted after idle timeout",
		}),
		SessionsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_sessions_finished_total",
			Help: "Total number of sessions closed by their client",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "diart_session_duration_seconds",
			Help:    "Lifetime of streaming sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Pipeline metrics
		ChunksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_chunks_processed_total",
			Help: "Total number of audio chunks processed by pipelines",
		}),
		BatchesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_batches_processed_total",
			Help: "Total number of batches processed by pipelines",
		}),
		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "diart_processing_duration_seconds",
			Help:    "Duration of per-batch pipeline processing",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}),
		SpeechSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_speech_segments_total",
			Help: "Total number of settled speech segments emitted",
		}),
		SpeechRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "diart_speech_ratio",
			Help:    "Fraction of the settled window covered by speech",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		PreconditionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_precondition_errors_total",
			Help: "Total number of batches rejected by precondition checks",
		}),
		InferenceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_inference_errors_total",
			Help: "Total number of failed model inference calls",
		}),

		// ASR client metrics
		ASRRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_asr_requests_total",
			Help: "Total number of speech recognition requests sent",
		}),
		ASRSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_asr_successes_total",
			Help: "Total number of successful speech recognition requests",
		}),
		ASRFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_asr_failures_total",
			Help: "Total number of failed speech recognition requests",
		}),
		ASRRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_asr_retries_total",
			Help: "Total number of speech recognition request retries",
		}),
		ASRDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "diart_asr_duration_seconds",
			Help:    "Duration of speech recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "diart_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diart_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "diart_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),

		// WebSocket streaming metrics
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "diart_ws_connections",
			Help: "Current number of open streaming WebSocket connections",
		}),
		WSFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_ws_frames_received_total",
			Help: "Total number of PCM frames received over WebSocket",
		}),
		WSSegmentsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "diart_ws_segments_sent_total",
			Help: "Total number of incremental segment messages sent over WebSocket",
		}),
	}
}

// SetActiveSessions sets the current number of active sessions.
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed records a finished or evicted session and its lifetime.
func (m *Metrics) RecordSessionClosed(durationSeconds float64, evicted bool) {
	if evicted {
		m.SessionsEvicted.Inc()
	} else {
		m.SessionsFinished.Inc()
	}
	m.SessionDuration.Observe(durationSeconds)
}

// RecordBatch records a processed batch.
func (m *Metrics) RecordBatch(chunks int, durationSeconds float64) {
	m.BatchesProcessed.Inc()
	m.ChunksProcessed.Add(float64(chunks))
	m.ProcessingDuration.Observe(durationSeconds)
}

// RecordSpeech records the settled speech segments of one chunk output.
func (m *Metrics) RecordSpeech(segments int, speechRatio float64) {
	m.SpeechSegments.Add(float64(segments))
	m.SpeechRatio.Observe(speechRatio)
}

// RecordPreconditionError increments the precondition error counter.
func (m *Metrics) RecordPreconditionError() {
	m.PreconditionErrors.Inc()
}

// RecordInferenceError increments the inference error counter.
func (m *Metrics) RecordInferenceError() {
	m.InferenceErrors.Inc()
}

// RecordASRRequest increments the ASR requests counter.
func (m *Metrics) RecordASRRequest() {
	m.ASRRequests.Inc()
}

// RecordASRSuccess records a successful ASR request.
func (m *Metrics) RecordASRSuccess(durationSeconds float64) {
	m.ASRSuccesses.Inc()
	m.ASRDuration.Observe(durationSeconds)
}

// RecordASRFailure records a failed ASR request.
func (m *Metrics) RecordASRFailure(durationSeconds float64) {
	m.ASRFailures.Inc()
	m.ASRDuration.Observe(durationSeconds)
}

// RecordASRRetry increments the ASR retry counter.
func (m *Metrics) RecordASRRetry() {
	m.ASRRetries.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
