package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Recorder accumulates raw PCM frames for one session and writes a WAV
// file on close. Frames are kept in memory for the session lifetime; a
// one-hour meeting at 16 kHz mono 16-bit is about 115 MB, which is within
// the one-process-per-meeting deployment budget.
type Recorder struct {
	dir    string
	format Format

	mu        sync.Mutex
	pcm       []byte
	startedAt time.Time
	frames    uint64
}

// NewRecorder creates a recorder writing into dir. The directory is
// created on Close, not up front, so a session with no audio leaves no
// empty directories behind.
func NewRecorder(dir string, format Format) *Recorder {
	return &Recorder{
		dir:    dir,
		format: format,
		// Pre-allocate one minute of audio.
		pcm: make([]byte, 0, format.SampleRate*format.Channels*format.BitDepth/8*60),
	}
}

// Append adds a PCM frame to the capture buffer. Zero-length frames are
// accepted; no frame padding is assumed.
func (r *Recorder) Append(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frames == 0 {
		r.startedAt = time.Now()
	}
	r.frames++
	r.pcm = append(r.pcm, frame...)
}

// CapturedBytes returns the number of PCM bytes captured so far
func (r *Recorder) CapturedBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcm)
}

// Close encodes the captured audio and writes the WAV file. Closing a
// recorder that never received a frame is a no-op and returns an empty
// path.
func (r *Recorder) Close() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frames == 0 {
		return "", nil
	}

	data, err := EncodeWAV(r.pcm, r.format)
	if err != nil {
		return "", fmt.Errorf("failed to encode recording: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory %s: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, recordingFileName(r.startedAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write recording %s: %w", path, err)
	}

	return path, nil
}

// recordingFileName renders the capture start time as an ISO 8601 stamp
// with ':' and '.' replaced by '-' so the name is safe on every filesystem
func recordingFileName(startedAt time.Time) string {
	stamp := startedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	stamp = strings.ReplaceAll(stamp, ":", "-")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	return "recording_" + stamp + ".wav"
}
