package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/sink"
)

// handleIngress upgrades an audio ingress connection and runs its read
// loop until the peer disconnects or the session drains
func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Ingress upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	connID := fmt.Sprintf("ingress-%d", s.connSeq.Add(1))

	s.mu.Lock()
	s.conns[conn] = connID
	s.mu.Unlock()

	if s.m != nil {
		s.m.IngressConnections.Inc()
	}

	s.logger.Info("Ingress connection accepted",
		slog.String("conn_id", connID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	s.session.OnIngressConnect()
	s.readLoop(conn, connID)
}

// readLoop classifies and routes inbound frames. A closed socket is a
// normal event: the connection leaves the subscriber set and, when it was
// the last one, the session drains.
func (s *Server) readLoop(conn *websocket.Conn, connID string) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()

		s.session.Sink().RemoveSubscriber(connID)

		s.mailboxMu.Lock()
		if mb, ok := s.mailboxes[connID]; ok {
			delete(s.mailboxes, connID)
			mb.Close()
		}
		s.mailboxMu.Unlock()

		conn.Close()

		if s.m != nil {
			s.m.IngressConnections.Dec()
		}

		s.logger.Info("Ingress connection closed", slog.String("conn_id", connID))
		s.session.OnIngressDisconnect()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("Ingress read ended",
					slog.String("conn_id", connID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		frame := protocol.ClassifyFrame(payload, time.Now())

		if frame.Kind == protocol.FrameRegister && frame.Register.Client == "bot" {
			s.registerBotSubscriber(conn, connID)
		}

		s.session.HandleFrame(frame)
	}
}

// registerBotSubscriber attaches a bounded mailbox delivering transcript
// envelopes to this connection. The mailbox's single pump goroutine is
// also the connection's only writer.
func (s *Server) registerBotSubscriber(conn *websocket.Conn, connID string) {
	s.mailboxMu.Lock()
	defer s.mailboxMu.Unlock()

	if _, ok := s.mailboxes[connID]; ok {
		return
	}

	mb := sink.NewMailbox(connID, sink.DefaultMailboxSize, s.logger, s.m, func(envelope protocol.TranscriptEnvelope) error {
		return conn.WriteJSON(envelope)
	})

	s.mailboxes[connID] = mb
	s.session.Sink().AddSubscriber(connID, mb)

	s.logger.Info("Bot subscriber registered", slog.String("conn_id", connID))
}

// closeIngressConns closes all ingress connections from our side. Used by
// the session during drain; each read loop then unwinds normally.
func (s *Server) closeIngressConns() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session draining"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}
