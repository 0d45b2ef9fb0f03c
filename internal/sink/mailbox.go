package sink

import (
	"log/slog"
	"sync"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
)

// DefaultMailboxSize bounds per-subscriber queues for network
// destinations. Real-time transcripts age fast; 64 envelopes of headroom
// covers transient socket stalls without letting lag accumulate.
const DefaultMailboxSize = 64

// DeliverFunc performs the actual (possibly blocking) delivery of one
// envelope, e.g. a WebSocket write
type DeliverFunc func(envelope protocol.TranscriptEnvelope) error

// Mailbox decouples the sink's publish path from a slow subscriber. It is
// a bounded queue with a drop-oldest policy: for a live transcript feed,
// lateness is worse than loss. A single pump goroutine performs deliveries
// in order.
type Mailbox struct {
	name    string
	logger  *slog.Logger
	m       *metrics.Metrics
	deliver DeliverFunc

	mu     sync.Mutex
	queue  chan protocol.TranscriptEnvelope
	closed bool

	pumpWG    sync.WaitGroup
	closeOnce sync.Once
}

// NewMailbox creates a mailbox and starts its pump goroutine
func NewMailbox(name string, capacity int, logger *slog.Logger, m *metrics.Metrics, deliver DeliverFunc) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxSize
	}

	mb := &Mailbox{
		name:    name,
		logger:  logger,
		m:       m,
		deliver: deliver,
		queue:   make(chan protocol.TranscriptEnvelope, capacity),
	}

	mb.pumpWG.Add(1)
	go mb.pump()

	return mb
}

// Name identifies the mailbox in logs
func (mb *Mailbox) Name() string {
	return mb.name
}

// Deliver enqueues an envelope without blocking. When the queue is full
// the oldest envelope is discarded to make room for the newest.
func (mb *Mailbox) Deliver(envelope protocol.TranscriptEnvelope) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return nil
	}

	for {
		select {
		case mb.queue <- envelope:
			return nil
		default:
		}

		select {
		case <-mb.queue:
			if mb.m != nil {
				mb.m.SubscriberDrops.WithLabelValues("queue_full").Inc()
			}
			mb.logger.Debug("Mailbox full, dropping oldest envelope",
				slog.String("subscriber", mb.name),
			)
		default:
		}
	}
}

// pump performs deliveries in queue order. Delivery errors are logged and
// counted; the subscriber stays active.
func (mb *Mailbox) pump() {
	defer mb.pumpWG.Done()

	for envelope := range mb.queue {
		if err := mb.deliver(envelope); err != nil {
			mb.logger.Warn("Mailbox delivery failed",
				slog.String("subscriber", mb.name),
				slog.String("error", err.Error()),
			)
			if mb.m != nil {
				mb.m.SubscriberDrops.WithLabelValues("send_error").Inc()
			}
		}
	}
}

// Close stops the mailbox, delivering whatever is already queued
func (mb *Mailbox) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		close(mb.queue)
		mb.mu.Unlock()
		mb.pumpWG.Wait()
	})
}
