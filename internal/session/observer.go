package session

import (
	"context"
	"log/slog"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/provider"
)

// Observer receives advisory session signals for the local UI or log
// pipeline. Implementations must not block.
type Observer interface {
	OnSpeakerChange(speaker protocol.SpeakerInfo)
	OnTranscript(event provider.TranscriptEvent)
	OnFatalError(message string)
}

// LogObserver is the default observer: everything goes to the logger
type LogObserver struct {
	Logger *slog.Logger
}

// OnSpeakerChange logs a speaker change
func (o *LogObserver) OnSpeakerChange(speaker protocol.SpeakerInfo) {
	o.Logger.Info("Speaker changed",
		slog.String("speaker", speaker.Name),
		slog.Int64("speaker_id", speaker.ID),
	)
}

// OnTranscript logs a transcript event
func (o *LogObserver) OnTranscript(event provider.TranscriptEvent) {
	level := slog.LevelDebug
	if event.IsFinal {
		level = slog.LevelInfo
	}
	o.Logger.Log(context.Background(), level, "Transcript",
		slog.String("text", event.Text),
		slog.Bool("is_final", event.IsFinal),
		slog.String("speaker", event.Speaker),
	)
}

// OnFatalError logs a fatal session error
func (o *LogObserver) OnFatalError(message string) {
	o.Logger.Error("Fatal session error", slog.String("message", message))
}
