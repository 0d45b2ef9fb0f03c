package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/session"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/sink"
)

// Server serves the WebSocket audio ingress and the HTTP control plane on
// a single listener
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	m       *metrics.Metrics
	session *session.Session

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	startTime time.Time
	connSeq   atomic.Uint64

	mu    sync.Mutex
	conns map[*websocket.Conn]string

	mailboxMu sync.Mutex
	mailboxes map[string]*sink.Mailbox
}

// New creates the combined server and registers it as the session's
// ingress closer
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, sess *session.Session) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		m:       m,
		session: sess,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Ingress peers are bots we launched; origin checks do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		conns:     make(map[*websocket.Conn]string),
		mailboxes: make(map[string]*sink.Mailbox),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	sess.SetIngressCloser(s.closeIngressConns)

	return s
}

// setupRoutes configures the HTTP API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleIngress)

	mux.HandleFunc("/webhooks/", s.withMetrics("/webhooks/{platform}", s.handleWebhook))
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))
	mux.HandleFunc("/config", s.withMetrics("/config", s.handleConfig))
	mux.Handle("/metrics", promhttp.Handler())

	// Root serves API documentation, or an ingress upgrade when the peer
	// asks for one.
	mux.HandleFunc("/", s.withMetrics("/", s.handleRoot))
}

// Start binds the listener and begins serving. Bind errors surface here;
// serve errors only end the process if the listener breaks underneath us.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	s.logger.Info("Server listening",
		slog.String("address", s.server.Addr),
		slog.String("mode", string(s.cfg.Server.Mode)),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop shuts the listener down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping server...")
	s.closeIngressConns()
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, useful when port 0 was requested
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// withMetrics wraps an HTTP handler with request metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if s.m != nil {
			s.m.HTTPRequests.WithLabelValues(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode)).Inc()
			s.m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(startTime).Seconds())
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes hijacking through so WebSocket upgrades work on wrapped
// endpoints
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
