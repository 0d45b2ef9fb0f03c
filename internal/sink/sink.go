package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/journal"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/provider"
)

// journalQueueSize is deliberately large: the journal is the durability
// path and takes queueing priority over network subscribers.
const journalQueueSize = 4096

// Subscriber receives transcript envelopes. Deliver must not block;
// implementations queue internally or drop.
type Subscriber interface {
	Name() string
	Deliver(envelope protocol.TranscriptEnvelope) error
}

// Stats is a snapshot of sink counters for monitoring
type Stats struct {
	EventsPublished uint64 `json:"events_published"`
	FinalEvents     uint64 `json:"final_events"`
	InterimEvents   uint64 `json:"interim_events"`
	JournalQueueLen int    `json:"journal_queue_len"`
	Subscribers     int    `json:"subscribers"`
}

// Sink owns the session journal and the fan-out list. For each event the
// journal append is enqueued before any subscriber delivery, so a
// journaled record exists (or is in flight) for everything a subscriber
// ever sees.
type Sink struct {
	logger *slog.Logger
	m      *metrics.Metrics

	journal   *journal.Journal // nil when transcript logging is disabled
	journalCh chan journal.Event
	writerWG  sync.WaitGroup

	mu          sync.RWMutex
	subscribers map[string]Subscriber
	closed      bool

	audioStart   time.Time
	segmentStart int64 // ms offset where the current utterance began

	eventsPublished uint64
	finalEvents     uint64
	interimEvents   uint64
}

// New creates a sink. j may be nil when transcript logging is disabled.
func New(logger *slog.Logger, m *metrics.Metrics, j *journal.Journal) *Sink {
	s := &Sink{
		logger:      logger,
		m:           m,
		journal:     j,
		subscribers: make(map[string]Subscriber),
	}

	if j != nil {
		s.journalCh = make(chan journal.Event, journalQueueSize)
		s.writerWG.Add(1)
		go s.journalWriter()
	}

	return s
}

// journalWriter drains the append queue in order. One writer per session
// keeps journal appends ordered without locking the publish path on disk
// I/O.
func (s *Sink) journalWriter() {
	defer s.writerWG.Done()

	for event := range s.journalCh {
		if err := s.journal.Append(event); err != nil {
			s.logger.Error("Journal append failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// SetAudioStart records the session's audio-start timestamp used to
// compute envelope time offsets
func (s *Sink) SetAudioStart(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioStart = t
}

// AddSubscriber registers a fan-out destination under id, replacing any
// previous subscriber with the same id
func (s *Sink) AddSubscriber(id string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = sub
}

// RemoveSubscriber drops a fan-out destination
func (s *Sink) RemoveSubscriber(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// SubscriberCount returns the current number of subscribers
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Publish routes one transcript event: journal append first, then
// best-effort delivery to a snapshot of the subscriber list. A failing
// subscriber is logged but stays registered; socket teardown is the
// ingress layer's call, not the sink's.
func (s *Sink) Publish(event provider.TranscriptEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.eventsPublished++
	kind := "interim"
	if event.IsFinal {
		s.finalEvents++
		kind = "final"
	} else {
		s.interimEvents++
	}

	offset := int64(0)
	if !s.audioStart.IsZero() {
		offset = event.ReceivedAt.Sub(s.audioStart).Milliseconds()
		if offset < 0 {
			offset = 0
		}
	}
	startTime := s.segmentStart
	if event.IsFinal {
		s.segmentStart = offset
	}

	if s.journalCh != nil {
		// Enqueued before any subscriber delivery below.
		s.journalCh <- journal.Event{
			Timestamp:  event.ReceivedAt,
			Text:       event.Text,
			IsFinal:    event.IsFinal,
			Speaker:    event.Speaker,
			Confidence: event.Confidence,
		}
	}

	snapshot := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		snapshot = append(snapshot, sub)
	}
	s.mu.Unlock()

	if s.m != nil {
		s.m.TranscriptEvents.WithLabelValues(kind).Inc()
	}

	envelope := protocol.NewTranscriptEnvelope(event.Text, event.IsFinal, startTime, offset)

	for _, sub := range snapshot {
		if err := sub.Deliver(envelope); err != nil {
			s.logger.Warn("Subscriber delivery failed",
				slog.String("subscriber", sub.Name()),
				slog.String("error", err.Error()),
			)
			if s.m != nil {
				s.m.SubscriberDrops.WithLabelValues("send_error").Inc()
			}
			continue
		}
		if s.m != nil {
			s.m.SubscriberDeliveries.Inc()
		}
	}
}

// Stats returns a snapshot of sink counters
func (s *Sink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queueLen := 0
	if s.journalCh != nil {
		queueLen = len(s.journalCh)
	}

	return Stats{
		EventsPublished: s.eventsPublished,
		FinalEvents:     s.finalEvents,
		InterimEvents:   s.interimEvents,
		JournalQueueLen: queueLen,
		Subscribers:     len(s.subscribers),
	}
}

// Close stops accepting events, drains the journal queue and finalizes
// the journal. The journal is durable when Close returns.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.journalCh != nil {
		close(s.journalCh)
		s.writerWG.Wait()
		if err := s.journal.Close(); err != nil {
			return fmt.Errorf("failed to finalize journal: %w", err)
		}
	}

	return nil
}
