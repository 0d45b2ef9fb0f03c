package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the closed set of control events recognized from the
// conferencing platform
type EventKind string

const (
	EventBotJoining                EventKind = "bot.joining"
	EventBotInWaitingRoom          EventKind = "bot.in_waiting_room"
	EventBotJoined                 EventKind = "bot.joined"
	EventBotLeft                   EventKind = "bot.left"
	EventRecordingPermissionAllow  EventKind = "bot.recording_permission_allowed"
	EventRecordingPermissionDenied EventKind = "bot.recording_permission_denied"
	EventRecordingStarted          EventKind = "recording.started"
	EventRecordingReady            EventKind = "recording.ready"
	EventRecordingFailed           EventKind = "recording.failed"
	EventTranscriptionReady        EventKind = "transcription.ready"
	EventTranscriptionFailed       EventKind = "transcription.failed"
	EventMeetingEnded              EventKind = "meeting.ended"
	EventBotStatusChange           EventKind = "bot.status_change"
)

// StatusInCallNotRecording is the only status code with a state-machine
// effect: it opens the transcription gate.
const StatusInCallNotRecording = "in_call_not_recording"

// knownEvents is the closed enum of accepted event kinds
var knownEvents = map[EventKind]bool{
	EventBotJoining:                true,
	EventBotInWaitingRoom:          true,
	EventBotJoined:                 true,
	EventBotLeft:                   true,
	EventRecordingPermissionAllow:  true,
	EventRecordingPermissionDenied: true,
	EventRecordingStarted:          true,
	EventRecordingReady:            true,
	EventRecordingFailed:           true,
	EventTranscriptionReady:        true,
	EventTranscriptionFailed:       true,
	EventMeetingEnded:              true,
	EventBotStatusChange:           true,
}

// IsValid reports whether the event kind belongs to the recognized set
func (k EventKind) IsValid() bool {
	return knownEvents[k]
}

// WebhookEnvelope is the raw JSON body posted by the conferencing platform
type WebhookEnvelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ControlEvent is a decoded webhook event ready for dispatch to the
// session state machine
type ControlEvent struct {
	Kind          EventKind
	BotID         string
	StatusCode    string
	StatusMessage string
	RecordingURL  string
	TranscriptURL string
	Error         string
	ReceivedAt    time.Time
}

// webhookData covers the payload fields used across all event kinds. The
// status field may be a bare string or a {code, message} object depending
// on the platform version; only the code is consulted.
type webhookData struct {
	BotID         string          `json:"bot_id"`
	Status        json.RawMessage `json:"status,omitempty"`
	RecordingURL  string          `json:"recording_url,omitempty"`
	TranscriptURL string          `json:"transcript_url,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type statusObject struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// DecodeControlEvent parses a webhook body into a ControlEvent. It returns
// an error for bodies that are not well-formed JSON, lack an event field,
// or name an event outside the recognized set.
func DecodeControlEvent(body []byte, receivedAt time.Time) (*ControlEvent, error) {
	var envelope WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed webhook body: %w", err)
	}

	if envelope.Event == "" {
		return nil, fmt.Errorf("webhook body missing event field")
	}

	kind := EventKind(envelope.Event)
	if !kind.IsValid() {
		return nil, fmt.Errorf("unrecognized event kind %q", envelope.Event)
	}

	event := &ControlEvent{
		Kind:       kind,
		ReceivedAt: receivedAt,
	}

	if len(envelope.Data) > 0 {
		var data webhookData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("malformed webhook data for %s: %w", kind, err)
		}

		event.BotID = data.BotID
		event.RecordingURL = data.RecordingURL
		event.TranscriptURL = data.TranscriptURL
		event.Error = data.Error

		if len(data.Status) > 0 {
			code, message, err := parseStatus(data.Status)
			if err != nil {
				return nil, fmt.Errorf("malformed status for %s: %w", kind, err)
			}
			event.StatusCode = code
			event.StatusMessage = message
		}
	}

	return event, nil
}

// parseStatus accepts both status encodings: a bare string code or a
// {code, message} object.
func parseStatus(raw json.RawMessage) (code, message string, err error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, "", nil
	}

	var obj statusObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", "", fmt.Errorf("status is neither string nor object: %w", err)
	}

	return obj.Code, obj.Message, nil
}

// OpensGate reports whether this control event authorizes audio forwarding
func (e *ControlEvent) OpensGate() bool {
	return e.Kind == EventBotStatusChange && e.StatusCode == StatusInCallNotRecording
}

// EndsSession reports whether this control event terminates the session
// without (or before) any transcription taking place
func (e *ControlEvent) EndsSession() bool {
	return e.Kind == EventMeetingEnded || e.Kind == EventRecordingPermissionDenied
}
