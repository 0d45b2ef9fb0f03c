// Standalone mock STT provider for local testing. Speaks the wsstream
// wire profile: a configure message after connect, binary PCM in,
// transcript JSON out.
//
// Run with: go run test_provider_server.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type configureMessage struct {
	Type           string `json:"type"`
	Encoding       string `json:"encoding"`
	SampleRateHz   int    `json:"sample_rate_hz"`
	Channels       int    `json:"channels"`
	Language       string `json:"language"`
	InterimResults bool   `json:"interim_results"`
}

type transcriptMessage struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

var phrases = []string{
	"hello everyone",
	"thanks for joining the call",
	"let's get started",
	"can you see my screen",
	"I will follow up after the meeting",
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("provider session from %s", r.RemoteAddr)

	var cfg configureMessage
	configured := false
	audioBytes := 0
	phraseIdx := 0
	// Emit an interim after this much audio, then a final on the next
	// threshold crossing.
	const interimEvery = 32 * 1024
	interimPending := false

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			log.Printf("session ended: %v", err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if configured {
				continue
			}
			if err := json.Unmarshal(payload, &cfg); err != nil || cfg.Type != "configure" {
				log.Printf("bad configure message: %s", payload)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected configure"),
					time.Now().Add(time.Second))
				return
			}
			configured = true
			log.Printf("configured: encoding=%s rate=%d lang=%s interim=%v",
				cfg.Encoding, cfg.SampleRateHz, cfg.Language, cfg.InterimResults)

		case websocket.BinaryMessage:
			if !configured {
				continue
			}
			audioBytes += len(payload)
			if audioBytes < interimEvery {
				continue
			}
			audioBytes = 0

			phrase := phrases[phraseIdx%len(phrases)]
			msg := transcriptMessage{
				Text:       phrase,
				IsFinal:    interimPending,
				Confidence: 0.92,
			}
			if !cfg.InterimResults {
				msg.IsFinal = true
			}
			if msg.IsFinal {
				phraseIdx++
				interimPending = false
			} else {
				interimPending = true
			}

			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("write failed: %v", err)
				return
			}
			log.Printf("sent transcript: final=%v %q", msg.IsFinal, msg.Text)
		}
	}
}

func main() {
	port := flag.Int("port", 8765, "Port to listen on")
	flag.Parse()

	http.HandleFunc("/stream", streamHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock STT provider listening on ws://localhost%s/stream", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
