package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taocao/diart/internal/audio"
	"github.com/taocao/diart/internal/pipeline"
	"github.com/taocao/diart/internal/stream"
	"github.com/taocao/diart/internal/window"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage is one incremental result sent to a streaming client.
type streamMessage struct {
	Type      string           `json:"type"` // "ready", "segments", "transcript", "final" or "error"
	SessionID string           `json:"session_id,omitempty"`
	Segments  []window.Segment `json:"segments,omitempty"`
	Text      string           `json:"text,omitempty"`
}

// handleStream upgrades the connection and runs a streaming session over
// it. The client sends binary frames of little-endian mono PCM-16 at the
// configured sample rate; every settled pipeline output is pushed back as a
// JSON text frame. When the client closes the connection (or sends a text
// frame "close"), the final joined prediction is sent before the server
// closes its side.
func (h *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	kind, err := stream.ParseKind(kindParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	session, err := h.manager.CreateSession(kind)
	if err != nil {
		h.writeWS(conn, streamMessage{Type: "error", Text: err.Error()})
		return
	}

	logger := h.logger.With(slog.String("session_id", session.ID))
	logger.Info("Streaming connection opened", slog.String("kind", string(kind)))

	h.writeWS(conn, streamMessage{Type: "ready", SessionID: session.ID})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// Client went away: evict without a final prediction.
			h.manager.Abort(session.ID)
			logger.Info("Streaming connection closed", slog.String("reason", err.Error()))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.metrics.WSFramesReceived.Inc()

			samples, err := audio.DecodePCM16(data)
			if err != nil {
				h.manager.Abort(session.ID)
				h.writeWS(conn, streamMessage{Type: "error", Text: err.Error()})
				return
			}

			outputs, err := h.manager.PushPCM(r.Context(), session.ID, audio.SamplesToFloat(samples))
			if err != nil {
				h.manager.Abort(session.ID)
				h.writeWS(conn, streamMessage{Type: "error", Text: err.Error()})
				return
			}

			for _, out := range outputs {
				h.pushOutput(conn, out)
			}

		case websocket.TextMessage:
			if string(data) != "close" {
				continue
			}

			final, err := h.manager.CloseSession(r.Context(), session.ID)
			if err != nil {
				h.writeWS(conn, streamMessage{Type: "error", Text: err.Error()})
				return
			}

			msg := streamMessage{Type: "final", SessionID: session.ID, Text: final.Text}
			if final.Annotation != nil {
				msg.Segments = final.Annotation.Timeline.Segments()
			}
			h.writeWS(conn, msg)
			logger.Info("Streaming session finished")
			return
		}
	}
}

// pushOutput sends one settled pipeline output to the client.
func (h *HTTPServer) pushOutput(conn *websocket.Conn, out pipeline.Output) {
	msg := streamMessage{Text: out.Text}
	if out.Annotation != nil {
		msg.Type = "segments"
		msg.Segments = out.Annotation.Timeline.Segments()
	} else {
		msg.Type = "transcript"
	}

	h.writeWS(conn, msg)
	h.metrics.WSSegmentsSent.Inc()
}

// writeWS sends a JSON message, logging write failures.
func (h *HTTPServer) writeWS(conn *websocket.Conn, msg streamMessage) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn("Failed to write WebSocket message", slog.String("error", err.Error()))
	}
}

// kindParam extracts the pipeline kind from the request, defaulting to
// voice activity detection.
func kindParam(r *http.Request) string {
	kind := r.URL.Query().Get("pipeline")
	if kind == "" {
		return string(stream.KindVoiceActivity)
	}
	return kind
}
