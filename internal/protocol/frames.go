package protocol

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// FrameKind identifies the inferred kind of an inbound ingress frame
type FrameKind int

const (
	// FramePCM is raw little-endian signed 16-bit audio
	FramePCM FrameKind = iota
	// FrameSpeakerMeta is a JSON array carrying active-speaker metadata
	FrameSpeakerMeta
	// FrameRegister is a JSON object registering a bot-side subscriber
	FrameRegister
)

// String returns a human-readable name for the frame kind
func (k FrameKind) String() string {
	switch k {
	case FramePCM:
		return "pcm"
	case FrameSpeakerMeta:
		return "speaker_meta"
	case FrameRegister:
		return "register"
	default:
		return "unknown"
	}
}

// Frame represents a classified ingress frame. Exactly one of the payload
// fields is populated, matching Kind.
type Frame struct {
	Kind       FrameKind
	PCM        []byte
	Speaker    *SpeakerInfo
	Register   *RegisterMessage
	ReceivedAt time.Time
}

// RegisterMessage identifies a bot-side subscriber connection. It is a
// destination for outbound transcripts, not an audio source.
type RegisterMessage struct {
	Type   string `json:"type"`
	Client string `json:"client"`
}

// SpeakerInfo carries active-speaker metadata derived from a SpeakerMeta
// frame. Timestamp is the platform's own clock in milliseconds.
type SpeakerInfo struct {
	Name       string `json:"name"`
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	IsSpeaking bool   `json:"isSpeaking"`
}

// ClassifyFrame infers the kind of an inbound frame. The policy is a cheap
// JSON probe: if the payload parses as one of the structured shapes it is
// treated accordingly, anything else is raw PCM. PCM frames are binary and
// virtually never parse as JSON, and treating malformed JSON as PCM keeps
// unknown future message types from being dropped on the floor.
func ClassifyFrame(payload []byte, receivedAt time.Time) Frame {
	frame := Frame{Kind: FramePCM, PCM: payload, ReceivedAt: receivedAt}

	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || !utf8.Valid(trimmed) {
		return frame
	}

	switch trimmed[0] {
	case '{':
		var reg RegisterMessage
		if err := json.Unmarshal(trimmed, &reg); err == nil && reg.Type == "register" {
			return Frame{Kind: FrameRegister, Register: &reg, ReceivedAt: receivedAt}
		}
	case '[':
		var speakers []SpeakerInfo
		if err := json.Unmarshal(trimmed, &speakers); err == nil && len(speakers) > 0 && speakers[0].Name != "" {
			return Frame{Kind: FrameSpeakerMeta, Speaker: &speakers[0], ReceivedAt: receivedAt}
		}
	}

	return frame
}

// TranscriptEnvelope is the outbound JSON envelope delivered to
// bot-registered subscribers
type TranscriptEnvelope struct {
	Type string          `json:"type"`
	Data TranscriptPiece `json:"data"`
}

// TranscriptPiece is the payload of a transcript envelope. StartTime and
// EndTime are milliseconds since the session's audio-start timestamp.
type TranscriptPiece struct {
	Text      string `json:"text"`
	IsFinal   bool   `json:"isFinal"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// NewTranscriptEnvelope builds the envelope sent to bot subscribers
func NewTranscriptEnvelope(text string, isFinal bool, startTime, endTime int64) TranscriptEnvelope {
	return TranscriptEnvelope{
		Type: "transcription",
		Data: TranscriptPiece{
			Text:      text,
			IsFinal:   isFinal,
			StartTime: startTime,
			EndTime:   endTime,
		},
	}
}
