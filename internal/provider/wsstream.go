package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
)

func init() {
	Register("wsstream", func(cfg config.ProviderConfig) (Adapter, error) {
		return NewWSStreamAdapter(cfg)
	})
}

// WSStreamAdapter speaks the common realtime STT wire profile: a
// persistent WebSocket, one JSON configuration message at open, binary
// audio frames thereafter, and JSON transcript messages back.
type WSStreamAdapter struct {
	cfg config.ProviderConfig
}

// NewWSStreamAdapter creates an adapter for a WebSocket streaming provider
func NewWSStreamAdapter(cfg config.ProviderConfig) (*WSStreamAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("wsstream provider requires an endpoint")
	}
	return &WSStreamAdapter{cfg: cfg}, nil
}

// ID returns the provider identifier
func (a *WSStreamAdapter) ID() string {
	return "wsstream"
}

// configureMessage is the JSON configuration sent as the first message
type configureMessage struct {
	Type           string `json:"type"`
	Encoding       string `json:"encoding"`
	SampleRateHz   int    `json:"sample_rate_hz"`
	Channels       int    `json:"channels"`
	Language       string `json:"language,omitempty"`
	InterimResults bool   `json:"interim_results"`
}

// transcriptMessage is the JSON shape of provider transcript messages
type transcriptMessage struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Open dials the provider and negotiates the session. All failures here
// are returned as *InitError: an unopened session is fatal, unlike a
// mid-stream error.
func (a *WSStreamAdapter) Open(ctx context.Context, opts SessionOptions) (Stream, error) {
	header := http.Header{}
	if a.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, a.cfg.Endpoint, header)
	if err != nil {
		msg := "connect failed"
		if resp != nil {
			msg = fmt.Sprintf("connect failed (HTTP %d)", resp.StatusCode)
		}
		return nil, &InitError{Provider: a.ID(), Message: msg, Err: err}
	}

	cfgMsg := configureMessage{
		Type:           "configure",
		Encoding:       opts.Encoding,
		SampleRateHz:   opts.SampleRateHz,
		Channels:       opts.Channels,
		Language:       opts.Language,
		InterimResults: opts.InterimResults,
	}

	if err := conn.WriteJSON(cfgMsg); err != nil {
		conn.Close()
		return nil, &InitError{Provider: a.ID(), Message: "failed to send configuration", Err: err}
	}

	stream := &wsStream{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go stream.receiveLoop()

	return stream, nil
}

// wsStream is a live WebSocket provider session
type wsStream struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	// gorilla permits one concurrent writer; SendAudio and Close share it
	writeMu sync.Mutex

	closeOnce sync.Once
}

// SendAudio forwards one PCM frame as a binary message
func (s *wsStream) SendAudio(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("audio send failed: %w", err)
	}
	return nil
}

// Events returns the ordered provider event sequence
func (s *wsStream) Events() <-chan Event {
	return s.events
}

// receiveLoop reads provider messages until the socket closes. Events are
// emitted in wire order; the loop never reorders or deduplicates.
func (s *wsStream) receiveLoop() {
	defer close(s.events)
	defer close(s.done)

	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.events <- Event{Closed: true}
			} else {
				s.events <- Event{Err: fmt.Errorf("provider read failed: %w", err)}
				s.events <- Event{Closed: true}
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		var msg transcriptMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.events <- Event{Err: fmt.Errorf("malformed provider message: %w", err)}
			continue
		}

		s.events <- Event{Transcript: &TranscriptEvent{
			Text:       msg.Text,
			IsFinal:    msg.IsFinal,
			Speaker:    msg.Speaker,
			Confidence: msg.Confidence,
			ReceivedAt: time.Now(),
		}}
	}
}

// Close half-closes the session: it sends a close frame and waits for the
// provider to end the stream or for ctx to expire. Timing out abandons
// the handle by force-closing the socket.
func (s *wsStream) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		writeErr := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		select {
		case <-s.done:
		case <-ctx.Done():
			err = fmt.Errorf("provider close timed out: %w", ctx.Err())
		}

		if closeErr := s.conn.Close(); closeErr != nil && err == nil && writeErr != nil {
			err = fmt.Errorf("provider close failed: %w", closeErr)
		}
	})
	return err
}
