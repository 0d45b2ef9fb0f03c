package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
)

// EncodingPCMS16LE is the only audio encoding negotiated with providers:
// signed 16-bit little-endian PCM.
const EncodingPCMS16LE = "pcm_s16le"

// MaxErrorDisplayLen caps provider error messages surfaced to observers
const MaxErrorDisplayLen = 128

// SessionOptions enumerates the recognized streaming session options
type SessionOptions struct {
	Encoding       string
	SampleRateHz   int
	Channels       int
	Language       string
	InterimResults bool
}

// DefaultSessionOptions returns the negotiated defaults: 16 kHz mono PCM
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Encoding:       EncodingPCMS16LE,
		SampleRateHz:   16000,
		Channels:       1,
		InterimResults: true,
	}
}

// TranscriptEvent is one transcript message produced by a provider.
// Confidence is zero when the provider does not report one.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Speaker    string
	Confidence float64
	ReceivedAt time.Time
}

// Event is the tagged variant delivered on a stream's event channel.
// Exactly one field is set: a transcript, a mid-stream error, or the
// closed marker ending the sequence.
type Event struct {
	Transcript *TranscriptEvent
	Err        error
	Closed     bool
}

// Stream is a live provider session handle
type Stream interface {
	// SendAudio forwards one PCM frame. It does not block on the network
	// beyond socket writability; frames may be coalesced internally.
	SendAudio(frame []byte) error

	// Events returns the ordered sequence of events produced by the
	// provider. The channel is closed after the Closed event.
	Events() <-chan Event

	// Close half-closes the session and returns once the provider
	// acknowledges or ctx expires, whichever comes first.
	Close(ctx context.Context) error
}

// Adapter opens streaming sessions against one STT provider
type Adapter interface {
	// ID returns the provider identifier (e.g. "wsstream")
	ID() string

	// Open initiates a streaming session. Failures are returned as
	// *InitError so callers can surface a structured fatal error.
	Open(ctx context.Context, opts SessionOptions) (Stream, error)
}

// InitError is a structured provider initialization failure. It is fatal
// for the session.
type InitError struct {
	Provider string
	Message  string
	Err      error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s init failed: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s init failed: %s", e.Provider, e.Message)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// DisplayMessage returns the human-readable message truncated for display
func (e *InitError) DisplayMessage() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return Truncate(msg, MaxErrorDisplayLen)
}

// Truncate shortens s to at most n bytes, cutting on a rune boundary
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Factory builds an adapter from provider configuration
type Factory func(cfg config.ProviderConfig) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory under the given id. Called from
// provider implementation init functions.
func Register(id string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = factory
}

// New instantiates the adapter selected by cfg.ID
func New(cfg config.ProviderConfig) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.ID]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", cfg.ID, Registered())
	}

	return factory(cfg)
}

// Registered returns the sorted list of registered provider ids
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
