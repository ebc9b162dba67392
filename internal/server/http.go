package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/config"
	"github.com/taocao/diart/internal/metrics"
	"github.com/taocao/diart/internal/pipeline"
	"github.com/taocao/diart/internal/sinks"
	"github.com/taocao/diart/internal/stream"
	"github.com/taocao/diart/internal/window"
)

// HTTPServer provides the HTTP and WebSocket API of the service.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	manager   *stream.Manager
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewHTTPServer creates the API server.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, manager *stream.Manager, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	return h
}

// setupRoutes configures the HTTP API routes.
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))

	// Whole-file processing
	mux.HandleFunc("/v1/vad", h.withMetrics("/v1/vad", h.handleVAD))
	mux.HandleFunc("/v1/transcribe", h.withMetrics("/v1/transcribe", h.handleTranscribe))

	// Live streaming over WebSocket
	mux.HandleFunc("/v1/stream", h.handleStream)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())
}

// withMetrics wraps an HTTP handler with metrics collection.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, time.Since(startTime).Seconds())

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server failed", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server")
	return h.server.Shutdown(ctx)
}

// handleHealth reports service liveness.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, map[string]any{
		"status":          "healthy",
		"uptime_seconds":  time.Since(h.startTime).Seconds(),
		"active_sessions": h.manager.GetActiveSessionCount(),
	})
}

// handleConfig reports the non-sensitive configuration.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, map[string]any{
		"audio": h.config.Audio,
		"vad":   h.config.VAD,
		"server": map[string]any{
			"address":         h.config.Server.Address,
			"port":            h.config.Server.Port,
			"session_timeout": h.config.Server.SessionTimeout,
		},
	})
}

// handleSessions reports a snapshot of all active sessions.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, map[string]any{
		"count":    h.manager.GetActiveSessionCount(),
		"sessions": h.manager.GetAllStats(),
	})
}

// vadResponse is the JSON result of whole-file voice activity detection.
type vadResponse struct {
	URI      string           `json:"uri"`
	Segments []window.Segment `json:"segments"`
	RTTM     string           `json:"rttm"`
}

// handleVAD runs the voice activity pipeline over an uploaded WAV file.
func (h *HTTPServer) handleVAD(w http.ResponseWriter, r *http.Request) {
	final, err := h.processUpload(w, r, stream.KindVoiceActivity)
	if err != nil {
		return
	}

	var rttm bytes.Buffer
	annotation := *final.Annotation
	annotation.URI = "stream"
	if err := sinks.WriteRTTM(&rttm, &annotation); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, vadResponse{
		URI:      "stream",
		Segments: final.Annotation.Timeline.Segments(),
		RTTM:     rttm.String(),
	})
}

// handleTranscribe runs the transcription pipeline over an uploaded WAV file.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	final, err := h.processUpload(w, r, stream.KindTranscription)
	if err != nil {
		return
	}

	h.writeJSON(w, map[string]string{"text": final.Text})
}

// processUpload decodes the uploaded WAV body, streams it through a fresh
// session of the requested kind, and returns the joined result. HTTP errors
// are already written when a non-nil error is returned.
func (h *HTTPServer) processUpload(w http.ResponseWriter, r *http.Request, kind stream.Kind) (pipeline.Output, error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return pipeline.Output{}, fmt.Errorf("method not allowed")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return pipeline.Output{}, err
	}

	samples, rate, err := audio.DecodeWAV(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return pipeline.Output{}, err
	}

	session, err := h.manager.CreateSession(kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return pipeline.Output{}, err
	}

	expectedRate := session.Config().SampleRate
	if rate != expectedRate {
		h.manager.Abort(session.ID)
		err := fmt.Errorf("audio has sample rate %d, expected %d", rate, expectedRate)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return pipeline.Output{}, err
	}

	if _, err := h.manager.PushPCM(r.Context(), session.ID, audio.SamplesToFloat(samples)); err != nil {
		h.manager.Abort(session.ID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return pipeline.Output{}, err
	}

	final, err := h.manager.CloseSession(r.Context(), session.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return pipeline.Output{}, err
	}

	return final, nil
}

// writeJSON writes a JSON response.
func (h *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}
