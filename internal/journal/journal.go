package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one transcript event as persisted to the journal
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Speaker    string    `json:"speaker,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Stats is the rolling statistics header of the structured record
type Stats struct {
	TotalEvents   int        `json:"total_events"`
	FinalEvents   int        `json:"final_events"`
	InterimEvents int        `json:"interim_events"`
	FirstEventAt  *time.Time `json:"first_event_at,omitempty"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
}

// record is the on-disk shape of transcript.json
type record struct {
	SessionID string  `json:"session_id"`
	Provider  string  `json:"provider"`
	Stats     Stats   `json:"stats"`
	Events    []Event `json:"events"`
}

// Journal owns the on-disk transcript artifacts for one session. The
// session directory is created at the first event, not at session start,
// so sessions that never produce a transcript leave nothing behind.
//
// raw_logs.txt is appended incrementally as events arrive; transcript.json,
// transcript.txt and session_info.txt are finalized on Close. Partial files
// after a crash therefore indicate an unclean exit, which is the intended
// failure mode.
type Journal struct {
	root      string
	sessionID string
	provider  string
	startedAt time.Time

	mu      sync.Mutex
	dir     string
	rawLog  *os.File
	events  []Event
	stats   Stats
	closed  bool
	endedAt time.Time
}

// New creates a journal rooted at root for the given session. No file or
// directory is touched until the first Append.
func New(root, sessionID, provider string, startedAt time.Time) *Journal {
	return &Journal{
		root:      root,
		sessionID: sessionID,
		provider:  provider,
		startedAt: startedAt,
	}
}

// Dir returns the session directory, or an empty string if no event has
// arrived yet
func (j *Journal) Dir() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dir
}

// Append persists one transcript event. Events are appended in call order;
// the caller serializes appends per session.
func (j *Journal) Append(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("journal for session %s is closed", j.sessionID)
	}

	if j.dir == "" {
		if err := j.createDirLocked(event.Timestamp); err != nil {
			return err
		}
	}

	j.events = append(j.events, event)
	j.stats.TotalEvents++
	if event.IsFinal {
		j.stats.FinalEvents++
	} else {
		j.stats.InterimEvents++
	}
	ts := event.Timestamp
	if j.stats.FirstEventAt == nil {
		first := ts
		j.stats.FirstEventAt = &first
	}
	last := ts
	j.stats.LastEventAt = &last

	kind := "interim"
	if event.IsFinal {
		kind = "final"
	}
	line := fmt.Sprintf("[%s] [%s]", event.Timestamp.UTC().Format(time.RFC3339Nano), kind)
	if event.Speaker != "" {
		line += fmt.Sprintf(" [%s]", event.Speaker)
	}
	line += " " + event.Text + "\n"

	if _, err := j.rawLog.WriteString(line); err != nil {
		return fmt.Errorf("failed to append raw log: %w", err)
	}

	return nil
}

// createDirLocked creates the session directory and opens the raw log
func (j *Journal) createDirLocked(firstEventAt time.Time) error {
	name := fmt.Sprintf("%s_%s", firstEventAt.UTC().Format("20060102_150405"), j.sessionID)
	dir := filepath.Join(j.root, "sessions", name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	rawLog, err := os.OpenFile(filepath.Join(dir, "raw_logs.txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open raw log: %w", err)
	}

	j.dir = dir
	j.rawLog = rawLog
	return nil
}

// FinalText renders the human-readable artifact: the text of all final
// events in emission order, joined by single spaces.
func (j *Journal) FinalText() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finalTextLocked()
}

func (j *Journal) finalTextLocked() string {
	parts := make([]string, 0, j.stats.FinalEvents)
	for _, event := range j.events {
		if event.IsFinal {
			parts = append(parts, event.Text)
		}
	}
	return strings.Join(parts, " ")
}

// EventCount returns the number of events appended so far
func (j *Journal) EventCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats.TotalEvents
}

// Close finalizes the journal: flushes the raw log and writes
// transcript.json, transcript.txt and session_info.txt. Closing a journal
// that never saw an event is a no-op. Close is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	j.endedAt = time.Now()

	if j.dir == "" {
		return nil
	}

	if err := j.rawLog.Close(); err != nil {
		return fmt.Errorf("failed to close raw log: %w", err)
	}

	rec := record{
		SessionID: j.sessionID,
		Provider:  j.provider,
		Stats:     j.stats,
		Events:    j.events,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript record: %w", err)
	}

	if err := os.WriteFile(filepath.Join(j.dir, "transcript.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write transcript.json: %w", err)
	}

	// The plain-text artifact is exactly the space-joined final texts,
	// no trailing newline.
	if err := os.WriteFile(filepath.Join(j.dir, "transcript.txt"), []byte(j.finalTextLocked()), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript.txt: %w", err)
	}

	if err := os.WriteFile(filepath.Join(j.dir, "session_info.txt"), []byte(j.sessionInfoLocked()), 0o644); err != nil {
		return fmt.Errorf("failed to write session_info.txt: %w", err)
	}

	return nil
}

// sessionInfoLocked renders the session summary written on close
func (j *Journal) sessionInfoLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session ID:      %s\n", j.sessionID)
	fmt.Fprintf(&b, "Provider:        %s\n", j.provider)
	fmt.Fprintf(&b, "Started:         %s\n", j.startedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Ended:           %s\n", j.endedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:        %s\n", j.endedAt.Sub(j.startedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Total events:    %d\n", j.stats.TotalEvents)
	fmt.Fprintf(&b, "Final events:    %d\n", j.stats.FinalEvents)
	fmt.Fprintf(&b, "Interim events:  %d\n", j.stats.InterimEvents)
	return b.String()
}
