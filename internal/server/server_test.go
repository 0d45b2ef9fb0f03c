package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/provider"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter satisfies provider.Adapter without a network
type fakeAdapter struct{}

func (f *fakeAdapter) ID() string { return "fake" }

func (f *fakeAdapter) Open(ctx context.Context, opts provider.SessionOptions) (provider.Stream, error) {
	return &fakeStream{events: make(chan provider.Event, 16)}, nil
}

type fakeStream struct {
	events chan provider.Event
}

func (f *fakeStream) SendAudio(frame []byte) error { return nil }
func (f *fakeStream) Events() <-chan provider.Event {
	return f.events
}
func (f *fakeStream) Close(ctx context.Context) error {
	f.events <- provider.Event{Closed: true}
	close(f.events)
	return nil
}

func newTestServer(t *testing.T, mode config.Mode) (*Server, *session.Session, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Mode = mode
	cfg.Provider.Endpoint = "ws://localhost:1/unused"
	cfg.Provider.APIKey = "super-secret-key"

	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	sess := session.New(session.Options{
		Logger:     testLogger(),
		Metrics:    m,
		Adapter:    &fakeAdapter{},
		Mode:       mode,
		Audio:      cfg.Audio,
		Provider:   cfg.Provider,
		Recording:  cfg.Recording,
		Transcript: config.TranscriptConfig{},
		FatalGrace: 10 * time.Millisecond,
	})

	srv := New(cfg, testLogger(), m, sess)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return srv, sess, ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, config.ModeRemote)

	status, body := getJSON(t, ts.URL+"/health")
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("health status = %v, want healthy", body["status"])
	}
	if body["service"] != "realtime-meeting-transcription" {
		t.Errorf("service = %v", body["service"])
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("health response missing timestamp")
	}
}

func TestRootAPIDoc(t *testing.T) {
	_, _, ts := newTestServer(t, config.ModeRemote)

	status, body := getJSON(t, ts.URL+"/")
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if _, ok := body["endpoints"]; !ok {
		t.Error("root response missing endpoint listing")
	}
}

func TestUnknownPathIs404(t *testing.T) {
	_, _, ts := newTestServer(t, config.ModeRemote)

	resp, err := http.Get(ts.URL + "/no-such-endpoint")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestConfigEndpointHidesAPIKey(t *testing.T) {
	_, _, ts := newTestServer(t, config.ModeRemote)

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if strings.Contains(string(raw), "super-secret-key") {
		t.Error("config response must not expose the provider API key")
	}
	if !strings.Contains(string(raw), "wsstream") {
		t.Error("config response should include the provider id")
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, config.ModeRemote)

	status, body := getJSON(t, ts.URL+"/stats")
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	sessionStats, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatalf("stats response missing session block: %v", body)
	}
	if sessionStats["state"] != "awaiting_ingress" {
		t.Errorf("session state = %v, want awaiting_ingress", sessionStats["state"])
	}
}

func TestWebhookDispatch(t *testing.T) {
	_, sess, ts := newTestServer(t, config.ModeRemote)
	sess.OnIngressConnect() // move past AwaitingIngress

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "well-formed informational event",
			path:       "/webhooks/meetingplatform",
			body:       `{"event":"bot.joined","data":{"bot_id":"bot-1"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed json",
			path:       "/webhooks/meetingplatform",
			body:       `{"event":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown event kind",
			path:       "/webhooks/meetingplatform",
			body:       `{"event":"bot.started_dancing"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing platform segment",
			path:       "/webhooks/",
			body:       `{"event":"bot.joined"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusBadRequest {
				var body map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatalf("error response is not JSON: %v", err)
				}
				if _, ok := body["error"]; !ok {
					t.Error("error response missing error field")
				}
				if _, ok := body["details"]; !ok {
					t.Error("error response missing details field")
				}
			}
		})
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	_, _, ts := newTestServer(t, config.ModeRemote)

	resp, err := http.Get(ts.URL + "/webhooks/meetingplatform")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestWebhookOpensGate(t *testing.T) {
	_, sess, ts := newTestServer(t, config.ModeRemote)
	sess.OnIngressConnect()

	body := `{"event":"bot.status_change","data":{"status":{"code":"in_call_not_recording","message":"in call"}}}`
	resp, err := http.Post(ts.URL+"/webhooks/meetingplatform", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if sess.State() != session.StateStreaming {
		t.Errorf("session state = %s, want streaming", sess.State())
	}

	sess.Drain("test done")
	<-sess.Done()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial %s failed: %v", path, err)
	}
	return conn
}

func TestIngressFrameRouting(t *testing.T) {
	_, sess, ts := newTestServer(t, config.ModeRemote)

	conn := dialWS(t, ts, "/ws")
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return sess.State() == session.StateAwaitingGate })

	// PCM while gated is counted as dropped.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return sess.Stats().PCMFrames == 1 })
	if got := sess.Stats().DroppedGated; got != 1 {
		t.Errorf("dropped gated = %d, want 1", got)
	}

	// Speaker metadata updates the snapshot.
	meta := `[{"name":"Alice","id":3,"timestamp":1712000000,"isSpeaking":true}]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(meta)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		sp := sess.CurrentSpeaker()
		return sp != nil && sp.Name == "Alice"
	})
}

func TestIngressRegisterAndFanout(t *testing.T) {
	_, sess, ts := newTestServer(t, config.ModeRemote)

	conn := dialWS(t, ts, "/ws")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"register","client":"bot"}`)); err != nil {
		t.Fatalf("register write failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return sess.Sink().SubscriberCount() == 1 })

	// Publish a transcript and read it back over the socket.
	sess.Sink().SetAudioStart(time.Now())
	sess.Sink().Publish(provider.TranscriptEvent{
		Text:       "hello from the provider",
		IsFinal:    true,
		ReceivedAt: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope protocol.TranscriptEnvelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("failed to read transcript envelope: %v", err)
	}
	if envelope.Type != "transcription" {
		t.Errorf("envelope type = %s, want transcription", envelope.Type)
	}
	if envelope.Data.Text != "hello from the provider" || !envelope.Data.IsFinal {
		t.Errorf("unexpected envelope payload: %+v", envelope.Data)
	}
}

func TestLastIngressDisconnectDrainsSession(t *testing.T) {
	_, sess, ts := newTestServer(t, config.ModeRemote)

	conn := dialWS(t, ts, "/ws")
	waitFor(t, 2*time.Second, func() bool { return sess.State() == session.StateAwaitingGate })

	conn.Close()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not drain after last ingress disconnect")
	}
}

func TestIngressUpgradeOnRoot(t *testing.T) {
	_, sess, ts := newTestServer(t, config.ModeRemote)

	conn := dialWS(t, ts, "/")
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return sess.State() == session.StateAwaitingGate })
}
