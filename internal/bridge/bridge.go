package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/provider"
)

// sendQueueSize bounds in-flight audio between ingress and the provider
// socket. At 20 ms frames this is about 5 seconds of audio; beyond that
// the provider is too far behind and dropping beats unbounded buffering.
const sendQueueSize = 256

// DefaultCloseTimeout caps the wait for provider close acknowledgement
const DefaultCloseTimeout = 5 * time.Second

// Stats is a snapshot of bridge counters for monitoring
type Stats struct {
	FramesForwarded  uint64 `json:"frames_forwarded"`
	DroppedNotOpen   uint64 `json:"dropped_provider_not_open"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	SendErrors       uint64 `json:"send_errors"`
	Transcripts      uint64 `json:"transcripts"`
}

// Bridge maintains one outbound streaming connection to an STT provider.
// Open is initiated exactly once per session; frames arriving before the
// handle is open are dropped with a counter, never buffered.
type Bridge struct {
	logger       *slog.Logger
	m            *metrics.Metrics
	adapter      provider.Adapter
	opts         provider.SessionOptions
	closeTimeout time.Duration

	mu      sync.Mutex
	stream  provider.Stream
	sendCh  chan []byte
	closing bool
	started bool

	opened atomic.Bool

	events chan provider.Event
	sendWG sync.WaitGroup
	recvWG sync.WaitGroup

	framesForwarded  atomic.Uint64
	droppedNotOpen   atomic.Uint64
	droppedQueueFull atomic.Uint64
	sendErrors       atomic.Uint64
	transcripts      atomic.Uint64
}

// New creates a bridge for one session. Nothing is dialed until Start.
func New(logger *slog.Logger, m *metrics.Metrics, adapter provider.Adapter, opts provider.SessionOptions, closeTimeout time.Duration) *Bridge {
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}

	return &Bridge{
		logger:       logger,
		m:            m,
		adapter:      adapter,
		opts:         opts,
		closeTimeout: closeTimeout,
		events:       make(chan provider.Event, 64),
	}
}

// Start opens the provider stream and launches the send and receive
// loops. It may be called at most once; an *provider.InitError return is
// fatal for the session.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bridge already started")
	}
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	b.logger.Info("Opening provider stream",
		slog.String("provider", b.adapter.ID()),
		slog.Int("sample_rate", b.opts.SampleRateHz),
		slog.Int("channels", b.opts.Channels),
		slog.String("language", b.opts.Language),
		slog.Bool("interim_results", b.opts.InterimResults),
	)

	stream, err := b.adapter.Open(ctx, b.opts)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closing {
		// Close ran while the dial was in flight and has already ended
		// the event channel. Discard the fresh stream instead of
		// launching loops against a closed bridge.
		b.mu.Unlock()

		closeCtx, cancel := context.WithTimeout(context.Background(), b.closeTimeout)
		defer cancel()
		if err := stream.Close(closeCtx); err != nil {
			b.logger.Warn("Discarding provider stream opened during close failed",
				slog.String("provider", b.adapter.ID()),
				slog.String("error", err.Error()),
			)
		}
		b.logger.Info("Provider stream discarded, bridge closed during open",
			slog.String("provider", b.adapter.ID()),
		)
		return nil
	}
	b.stream = stream
	b.sendCh = make(chan []byte, sendQueueSize)
	b.mu.Unlock()
	b.opened.Store(true)

	b.sendWG.Add(1)
	go b.sendLoop(stream)

	b.recvWG.Add(1)
	go b.receiveLoop(stream)

	b.logger.Info("Provider stream open", slog.String("provider", b.adapter.ID()))
	return nil
}

// Forward hands one PCM frame to the provider. Frames arriving before the
// stream is open are dropped with a counter. Queue overflow also drops:
// re-delivering stale real-time audio is worse than a gap.
func (b *Bridge) Forward(frame []byte) {
	if !b.opened.Load() {
		b.droppedNotOpen.Add(1)
		if b.m != nil {
			b.m.FramesDroppedNotOpen.Inc()
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing || b.sendCh == nil {
		b.droppedNotOpen.Add(1)
		if b.m != nil {
			b.m.FramesDroppedNotOpen.Inc()
		}
		return
	}

	select {
	case b.sendCh <- frame:
	default:
		b.droppedQueueFull.Add(1)
		if b.m != nil {
			b.m.FramesDroppedSendError.Inc()
		}
		b.logger.Warn("Provider send queue full, dropping frame",
			slog.Int("frame_size", len(frame)),
		)
	}
}

// sendLoop writes queued frames to the provider in arrival order
func (b *Bridge) sendLoop(stream provider.Stream) {
	defer b.sendWG.Done()

	for frame := range b.sendCh {
		if err := stream.SendAudio(frame); err != nil {
			// No retry: the frame is dropped and the stream carries on.
			b.sendErrors.Add(1)
			if b.m != nil {
				b.m.FramesDroppedSendError.Inc()
			}
			b.logger.Warn("Provider audio send failed",
				slog.Int("frame_size", len(frame)),
				slog.String("error", err.Error()),
			)
			continue
		}

		b.framesForwarded.Add(1)
		if b.m != nil {
			b.m.FramesForwarded.Inc()
		}
	}
}

// receiveLoop relays provider events upward in emission order. Mid-stream
// errors are logged and counted here; transcripts and the closed marker
// are passed through to the orchestrator.
func (b *Bridge) receiveLoop(stream provider.Stream) {
	defer b.recvWG.Done()
	defer close(b.events)

	for event := range stream.Events() {
		switch {
		case event.Transcript != nil:
			b.transcripts.Add(1)
			b.events <- event

		case event.Err != nil:
			b.logger.Warn("Provider stream error",
				slog.String("provider", b.adapter.ID()),
				slog.String("error", event.Err.Error()),
			)

		case event.Closed:
			b.events <- event
			return
		}
	}
}

// Events returns the upward event channel: transcripts in provider
// emission order, then a Closed event, then channel close.
func (b *Bridge) Events() <-chan provider.Event {
	return b.events
}

// Opened reports whether the provider stream has been opened
func (b *Bridge) Opened() bool {
	return b.opened.Load()
}

// Close stops accepting audio, flushes frames already queued, half-closes
// the provider stream and waits for acknowledgement up to the close
// timeout. Safe to call when Start never ran, failed, or is still
// waiting on the provider dial.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	stream := b.stream
	sendCh := b.sendCh
	b.mu.Unlock()

	if stream == nil {
		// No loops were launched; a dial still in flight finds closing
		// set and discards its stream without touching the channel.
		close(b.events)
		return nil
	}

	// Let the send loop drain what was already accepted.
	close(sendCh)
	b.sendWG.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), b.closeTimeout)
	defer cancel()

	err := stream.Close(ctx)
	b.recvWG.Wait()

	b.logger.Info("Provider stream closed",
		slog.String("provider", b.adapter.ID()),
		slog.Uint64("frames_forwarded", b.framesForwarded.Load()),
		slog.Uint64("dropped_not_open", b.droppedNotOpen.Load()),
		slog.Uint64("send_errors", b.sendErrors.Load()),
	)

	if err != nil {
		return fmt.Errorf("provider close: %w", err)
	}
	return nil
}

// Stats returns a snapshot of bridge counters
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesForwarded:  b.framesForwarded.Load(),
		DroppedNotOpen:   b.droppedNotOpen.Load(),
		DroppedQueueFull: b.droppedQueueFull.Load(),
		SendErrors:       b.sendErrors.Load(),
		Transcripts:      b.transcripts.Load(),
	}
}
