package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
)

const maxWebhookBody = 1 << 20

// handleWebhook implements POST /webhooks/{platform}. Well-formed events
// are acknowledged with 200 after dispatch; malformed payloads get a 400
// with details and never reach the session.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Webhook handler panicked", slog.Any("panic", rec))
			writeJSONError(w, http.StatusInternalServerError, "internal error", "webhook handler failed")
		}
	}()

	platform := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
	if platform == "" {
		writeJSONError(w, http.StatusBadRequest, "platform required", "expected /webhooks/{platform}")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	event, err := protocol.DecodeControlEvent(body, time.Now())
	if err != nil {
		s.logger.Warn("Malformed webhook payload",
			slog.String("platform", platform),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadRequest, "invalid webhook payload", err.Error())
		return
	}

	s.logger.Debug("Webhook received",
		slog.String("platform", platform),
		slog.String("event", string(event.Kind)),
	)

	// Dispatch before responding; a slow handler back-pressures the
	// platform's webhook sender.
	s.session.HandleControl(event)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"event":  string(event.Kind),
	})
}

// handleHealth implements the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "realtime-meeting-transcription",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"session": map[string]any{
			"id":    s.session.ID,
			"state": s.session.State().String(),
		},
	})
}

// handleStats implements the /stats endpoint
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	connections := len(s.conns)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
		"ingress": map[string]any{
			"connections": connections,
			"subscribers": s.session.Sink().SubscriberCount(),
		},
		"session": s.session.Stats(),
	})
}

// handleConfig implements the /config endpoint. The provider API key is
// omitted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"host": s.cfg.Server.Host,
			"port": s.cfg.Server.Port,
			"mode": s.cfg.Server.Mode,
		},
		"audio": map[string]any{
			"sample_rate": s.cfg.Audio.SampleRate,
			"channels":    s.cfg.Audio.Channels,
			"bit_depth":   s.cfg.Audio.BitDepth,
		},
		"provider": map[string]any{
			"id":              s.cfg.Provider.ID,
			"endpoint":        s.cfg.Provider.Endpoint,
			"language":        s.cfg.Provider.Language,
			"interim_results": s.cfg.Provider.InterimResults,
			"open_timeout":    s.cfg.Provider.OpenTimeout,
			"close_timeout":   s.cfg.Provider.CloseTimeout,
		},
		"recording": map[string]any{
			"enabled": s.cfg.Recording.Enabled,
			"dir":     s.cfg.Recording.Dir,
		},
		"transcript": map[string]any{
			"enabled": s.cfg.Transcript.Enabled,
			"dir":     s.cfg.Transcript.Dir,
		},
		"logging": map[string]any{
			"level":  s.cfg.Logging.Level,
			"format": s.cfg.Logging.Format,
			"output": s.cfg.Logging.Output,
		},
	})
}

// handleRoot serves API documentation, or hands WebSocket upgrade requests
// to the ingress handler
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.handleIngress(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Realtime Meeting Transcription",
		"endpoints": map[string]any{
			"WS /":                      "Audio ingress (WebSocket upgrade)",
			"WS /ws":                    "Audio ingress (WebSocket upgrade)",
			"POST /webhooks/{platform}": "Meeting platform control events",
			"GET /health":               "Service health check",
			"GET /stats":                "Session and ingress statistics",
			"GET /config":               "Sanitized service configuration",
			"GET /metrics":              "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, map[string]any{
		"error":   message,
		"details": details,
	})
}
