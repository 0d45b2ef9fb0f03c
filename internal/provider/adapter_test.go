package provider

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"over limit", "hello world", 5, "hello"},
		{"empty", "", 5, ""},
		{"cut lands mid-rune", "abécd", 3, "ab"},
		{"cut lands on rune boundary", "abécd", 4, "abé"},
		{"multi-byte only", "ééé", 5, "éé"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}

func TestInitErrorDisplayMessage(t *testing.T) {
	short := &InitError{Provider: "wsstream", Message: "connect failed", Err: errors.New("connection refused")}
	if got := short.DisplayMessage(); got != "connect failed: connection refused" {
		t.Errorf("DisplayMessage() = %q", got)
	}

	long := &InitError{Provider: "wsstream", Message: strings.Repeat("x", 300)}
	if got := long.DisplayMessage(); len(got) != MaxErrorDisplayLen {
		t.Errorf("DisplayMessage() length = %d, want %d", len(got), MaxErrorDisplayLen)
	}
}

func TestInitErrorUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := &InitError{Provider: "wsstream", Message: "connect failed", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	var initErr *InitError
	if !errors.As(error(err), &initErr) {
		t.Error("expected errors.As to match *InitError")
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := New(config.ProviderConfig{ID: "no-such-provider", Endpoint: "ws://x"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	// The error lists what is registered to aid configuration debugging.
	if !strings.Contains(err.Error(), "wsstream") {
		t.Errorf("error should list registered providers: %v", err)
	}
}

func TestRegistryKnownProvider(t *testing.T) {
	adapter, err := New(config.ProviderConfig{ID: "wsstream", Endpoint: "ws://localhost:8765/stream"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if adapter.ID() != "wsstream" {
		t.Errorf("adapter id = %s, want wsstream", adapter.ID())
	}
}

func TestDefaultSessionOptions(t *testing.T) {
	opts := DefaultSessionOptions()
	if opts.Encoding != EncodingPCMS16LE {
		t.Errorf("encoding = %s, want %s", opts.Encoding, EncodingPCMS16LE)
	}
	if opts.SampleRateHz != 16000 || opts.Channels != 1 {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}
