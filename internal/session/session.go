package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/audio"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/bridge"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/config"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/journal"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/metrics"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/protocol"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/provider"
	"github.com/Meeting-BaaS/realtime-meeting-transcription/internal/sink"
)

// DefaultFatalGrace is the window between publishing a fatal provider
// error and starting teardown, so observers can display the error
const DefaultFatalGrace = 3 * time.Second

// DefaultOpenTimeout caps the provider dial when no timeout is configured
const DefaultOpenTimeout = 10 * time.Second

// ControlHandler processes one decoded webhook control event
type ControlHandler func(event *protocol.ControlEvent)

// Stats is a monitoring snapshot of one session
type Stats struct {
	ID             string       `json:"id"`
	Mode           config.Mode  `json:"mode"`
	State          string       `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	CurrentSpeaker string       `json:"current_speaker,omitempty"`
	GateOpen       bool         `json:"gate_open"`
	PCMFrames      uint64       `json:"pcm_frames"`
	SpeakerFrames  uint64       `json:"speaker_frames"`
	DroppedGated   uint64       `json:"dropped_gated"`
	Bridge         bridge.Stats `json:"bridge"`
	Sink           sink.Stats   `json:"sink"`
	RecordedBytes  int          `json:"recorded_bytes,omitempty"`
}

// Session orchestrates one meeting. It is the single writer of the gate
// flag and the current-speaker snapshot; ingress reads both per frame.
type Session struct {
	ID        string
	mode      config.Mode
	createdAt time.Time

	logger      *slog.Logger
	m           *metrics.Metrics
	observer    Observer
	fatalGrace  time.Duration
	openTimeout time.Duration

	// ctx is canceled at the start of Drain so a provider dial still in
	// flight returns promptly instead of running out its timeout
	ctx    context.Context
	cancel context.CancelFunc

	bridge   *bridge.Bridge
	sink     *sink.Sink
	recorder *audio.Recorder // nil when recording is disabled

	gate           atomic.Bool
	currentSpeaker atomic.Pointer[protocol.SpeakerInfo]
	state          atomic.Int32
	audioStartedAt atomic.Int64 // unix milli, 0 until streaming begins

	// controlMu serializes webhook handler dispatch for this session
	controlMu sync.Mutex
	handlers  map[protocol.EventKind]ControlHandler
	wildcard  ControlHandler

	ingressMu     sync.Mutex
	ingressCount  int
	ingressCloser func() // closes ingress connections from our side

	pcmFrames     atomic.Uint64
	speakerFrames atomic.Uint64
	droppedGated  atomic.Uint64

	teardownOnce sync.Once
	bridgeOnce   sync.Once
	pumpWG       sync.WaitGroup
	done         chan struct{}
	exitCode     atomic.Int32
}

// Options bundles the collaborators and tuning knobs for a session
type Options struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Adapter    provider.Adapter
	Mode       config.Mode
	Audio      config.AudioConfig
	Provider   config.ProviderConfig
	Recording  config.RecordingConfig
	Transcript config.TranscriptConfig
	Observer   Observer
	FatalGrace time.Duration
}

// New creates a session in AwaitingIngress state. In Local mode the gate
// starts open; in Remote mode it stays closed until the authorizing
// webhook arrives.
func New(opts Options) *Session {
	id := uuid.NewString()
	now := time.Now()

	logger := opts.Logger.With(slog.String("session_id", id))

	observer := opts.Observer
	if observer == nil {
		observer = &LogObserver{Logger: logger}
	}

	fatalGrace := opts.FatalGrace
	if fatalGrace <= 0 {
		fatalGrace = DefaultFatalGrace
	}

	openTimeout := opts.Provider.GetOpenTimeout()
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}

	var j *journal.Journal
	if opts.Transcript.Enabled {
		j = journal.New(opts.Transcript.Dir, id, opts.Provider.ID, now)
	}

	var recorder *audio.Recorder
	if opts.Recording.Enabled {
		recorder = audio.NewRecorder(opts.Recording.Dir, audio.Format{
			SampleRate: opts.Audio.SampleRate,
			Channels:   opts.Audio.Channels,
			BitDepth:   opts.Audio.BitDepth,
		})
	}

	sessionOpts := provider.SessionOptions{
		Encoding:       provider.EncodingPCMS16LE,
		SampleRateHz:   opts.Audio.SampleRate,
		Channels:       opts.Audio.Channels,
		Language:       opts.Provider.Language,
		InterimResults: opts.Provider.InterimResults,
	}

	s := &Session{
		ID:          id,
		mode:        opts.Mode,
		createdAt:   now,
		logger:      logger,
		m:           opts.Metrics,
		observer:    observer,
		fatalGrace:  fatalGrace,
		openTimeout: openTimeout,
		sink:        sink.New(logger, opts.Metrics, j),
		recorder:    recorder,
		bridge:      bridge.New(logger, opts.Metrics, opts.Adapter, sessionOpts, opts.Provider.GetCloseTimeout()),
		handlers:    make(map[protocol.EventKind]ControlHandler),
		done:        make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state.Store(int32(StateAwaitingIngress))

	if opts.Mode == config.ModeLocal {
		s.gate.Store(true)
	}

	s.installControlHandlers()

	if opts.Metrics != nil {
		opts.Metrics.SessionsCreated.Inc()
	}

	logger.Info("Session created",
		slog.String("mode", string(opts.Mode)),
		slog.String("provider", opts.Provider.ID),
		slog.Bool("gate_open", s.gate.Load()),
	)

	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// GateOpen reports whether audio forwarding is authorized. Read per frame
// by ingress; written only by the orchestrator.
func (s *Session) GateOpen() bool {
	return s.gate.Load()
}

// CurrentSpeaker returns the latest speaker snapshot, or nil
func (s *Session) CurrentSpeaker() *protocol.SpeakerInfo {
	return s.currentSpeaker.Load()
}

// Sink exposes the transcript router so ingress can register subscribers
func (s *Session) Sink() *sink.Sink {
	return s.sink
}

// Done is closed when teardown completes
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitCode is non-zero after a provider init failure
func (s *Session) ExitCode() int {
	return int(s.exitCode.Load())
}

// SetIngressCloser registers the callback that closes ingress connections
// from our side during drain
func (s *Session) SetIngressCloser(closer func()) {
	s.ingressMu.Lock()
	defer s.ingressMu.Unlock()
	s.ingressCloser = closer
}

// OnIngressConnect records an accepted ingress connection. The first
// connection advances the state machine; in Local mode transcription
// starts immediately, in Remote mode the session waits for the gate.
func (s *Session) OnIngressConnect() {
	s.ingressMu.Lock()
	s.ingressCount++
	first := s.ingressCount == 1
	s.ingressMu.Unlock()

	if !first {
		// A reconnection during streaming adds a subscriber; it never
		// resets the session.
		return
	}

	if s.mode == config.ModeLocal {
		if s.state.CompareAndSwap(int32(StateAwaitingIngress), int32(StateStreaming)) {
			s.logger.Info("First ingress connection, starting transcription", slog.String("mode", "local"))
			s.startBridge()
		}
		return
	}

	if s.state.CompareAndSwap(int32(StateAwaitingIngress), int32(StateAwaitingGate)) {
		s.logger.Info("First ingress connection, awaiting recording authorization")
	}
}

// OnIngressDisconnect records a closed ingress connection. When the last
// one closes the session drains.
func (s *Session) OnIngressDisconnect() {
	s.ingressMu.Lock()
	s.ingressCount--
	last := s.ingressCount == 0
	s.ingressMu.Unlock()

	if last {
		s.Drain("last ingress connection closed")
	}
}

// HandleFrame processes one classified ingress frame. Called from ingress
// read goroutines; the hot path reads two atomics and takes no locks.
func (s *Session) HandleFrame(frame protocol.Frame) {
	switch frame.Kind {
	case protocol.FramePCM:
		s.handlePCM(frame)
	case protocol.FrameSpeakerMeta:
		s.handleSpeakerMeta(frame.Speaker)
	case protocol.FrameRegister:
		// Subscriber registration is handled by the ingress layer; the
		// session only counts it.
	}

	if s.m != nil {
		s.m.FramesReceived.WithLabelValues(frame.Kind.String()).Inc()
	}
}

// handlePCM records and forwards one audio frame. Frames arriving while
// the gate is closed are dropped with a counter, never buffered.
func (s *Session) handlePCM(frame protocol.Frame) {
	s.pcmFrames.Add(1)

	if s.recorder != nil {
		s.recorder.Append(frame.PCM)
	}

	if !s.gate.Load() {
		s.droppedGated.Add(1)
		if s.m != nil {
			s.m.FramesDroppedGated.Inc()
		}
		return
	}

	s.bridge.Forward(frame.PCM)
}

// handleSpeakerMeta applies the rising-edge speaker rule: the snapshot
// changes only when someone starts speaking and it is a different name
// than before. Stop events never clear the field.
func (s *Session) handleSpeakerMeta(speaker *protocol.SpeakerInfo) {
	s.speakerFrames.Add(1)

	if !speaker.IsSpeaking {
		return
	}

	previous := s.currentSpeaker.Load()
	if previous != nil && previous.Name == speaker.Name {
		return
	}

	s.currentSpeaker.Store(speaker)
	s.observer.OnSpeakerChange(*speaker)
}

// installControlHandlers wires the default webhook handler table
func (s *Session) installControlHandlers() {
	s.handlers[protocol.EventBotStatusChange] = func(event *protocol.ControlEvent) {
		if event.OpensGate() {
			s.openGate()
			return
		}
		s.logger.Info("Bot status changed",
			slog.String("status", event.StatusCode),
			slog.String("message", event.StatusMessage),
		)
	}

	s.handlers[protocol.EventMeetingEnded] = func(event *protocol.ControlEvent) {
		s.Drain("meeting ended")
	}

	s.handlers[protocol.EventRecordingPermissionDenied] = func(event *protocol.ControlEvent) {
		s.logger.Warn("Recording permission denied", slog.String("bot_id", event.BotID))
		s.Drain("recording permission denied")
	}

	s.wildcard = func(event *protocol.ControlEvent) {
		s.logger.Info("Control event",
			slog.String("event", string(event.Kind)),
			slog.String("bot_id", event.BotID),
			slog.String("error", event.Error),
		)
	}
}

// RegisterControlHandler overrides the handler for one event kind
func (s *Session) RegisterControlHandler(kind protocol.EventKind, handler ControlHandler) {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	s.handlers[kind] = handler
}

// HandleControl dispatches one webhook control event. Invocations are
// serialized per session; the HTTP response is sent after dispatch
// returns, which gives the platform natural back-pressure.
func (s *Session) HandleControl(event *protocol.ControlEvent) {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	if s.m != nil {
		s.m.WebhookEvents.WithLabelValues(string(event.Kind)).Inc()
	}

	if handler, ok := s.handlers[event.Kind]; ok {
		handler(event)
	} else if s.wildcard != nil {
		s.wildcard(event)
	}
}

// openGate authorizes forwarding and requests bridge startup. Reposting
// the same event is idempotent: the transition fires once.
func (s *Session) openGate() {
	if !s.state.CompareAndSwap(int32(StateAwaitingGate), int32(StateStreaming)) {
		s.logger.Debug("Gate event ignored", slog.String("state", s.State().String()))
		return
	}

	s.logger.Info("Recording authorized, starting transcription")
	s.startBridge()
}

// startBridge opens the provider stream and starts the event pump. The
// gate opens only after the startup request so ingress never forwards to
// a bridge that was never asked to open.
func (s *Session) startBridge() {
	s.bridgeOnce.Do(func() {
		now := time.Now()
		s.audioStartedAt.Store(now.UnixMilli())
		s.sink.SetAudioStart(now)
		s.gate.Store(true)

		s.pumpWG.Add(1)
		go func() {
			defer s.pumpWG.Done()

			ctx, cancel := context.WithTimeout(s.ctx, s.openTimeout)
			err := s.bridge.Start(ctx)
			cancel()
			if err != nil {
				if s.ctx.Err() != nil {
					// Teardown canceled the dial; not a provider failure.
					return
				}
				s.fatal(err)
				return
			}

			s.pumpEvents()
		}()
	})
}

// pumpEvents relays bridge events to the sink and the observer until the
// provider stream ends. Transcripts missing a provider-side speaker carry
// the session's current-speaker snapshot at arrival.
func (s *Session) pumpEvents() {
	for event := range s.bridge.Events() {
		switch {
		case event.Transcript != nil:
			transcript := *event.Transcript
			if transcript.Speaker == "" {
				if speaker := s.currentSpeaker.Load(); speaker != nil {
					transcript.Speaker = speaker.Name
				}
			}
			s.sink.Publish(transcript)
			s.observer.OnTranscript(transcript)

		case event.Closed:
			if s.State() == StateStreaming {
				s.logger.Warn("Provider closed stream before drain")
				go s.Drain("provider closed stream")
			}
		}
	}
}

// fatal publishes a provider init failure and schedules teardown after
// the grace window so observers can display the error before exit
func (s *Session) fatal(err error) {
	s.state.Store(int32(StateFatalError))
	s.exitCode.Store(1)

	message := provider.Truncate(err.Error(), provider.MaxErrorDisplayLen)
	if initErr, ok := err.(*provider.InitError); ok {
		message = initErr.DisplayMessage()
	}

	s.logger.Error("Provider initialization failed", slog.String("error", message))
	s.observer.OnFatalError(message)

	time.AfterFunc(s.fatalGrace, func() {
		s.Drain("provider init failure")
	})
}

// Drain triggers teardown. Every trigger converges here and the path runs
// exactly once: last ingress close, meeting-ended webhook, provider
// closure, fatal error, external interrupt.
func (s *Session) Drain(reason string) {
	s.teardownOnce.Do(func() {
		if s.State() != StateFatalError {
			s.state.Store(int32(StateDraining))
		}
		s.logger.Info("Session draining", slog.String("reason", reason))

		// Stop forwarding before anything else, and release a provider
		// dial that may still be in flight.
		s.gate.Store(false)
		s.cancel()

		s.ingressMu.Lock()
		closer := s.ingressCloser
		s.ingressMu.Unlock()
		if closer != nil {
			closer()
		}

		if err := s.bridge.Close(); err != nil {
			s.logger.Warn("Bridge close failed", slog.String("error", err.Error()))
		}
		s.pumpWG.Wait()

		if err := s.sink.Close(); err != nil {
			s.logger.Error("Sink close failed", slog.String("error", err.Error()))
		}

		if s.recorder != nil {
			path, err := s.recorder.Close()
			if err != nil {
				s.logger.Error("Recording write failed", slog.String("error", err.Error()))
			} else if path != "" {
				s.logger.Info("Recording written", slog.String("path", path))
			}
		}

		if s.State() != StateFatalError {
			s.state.Store(int32(StateTerminated))
		}

		duration := time.Since(s.createdAt)
		if s.m != nil {
			s.m.SessionsTerminated.Inc()
			s.m.SessionDuration.Observe(duration.Seconds())
		}

		s.logger.Info("Session terminated",
			slog.String("reason", reason),
			slog.Duration("duration", duration),
			slog.Uint64("pcm_frames", s.pcmFrames.Load()),
			slog.Uint64("dropped_gated", s.droppedGated.Load()),
			slog.Uint64("frames_forwarded", s.bridge.Stats().FramesForwarded),
		)

		close(s.done)
	})
}

// Stats returns a monitoring snapshot
func (s *Session) Stats() Stats {
	stats := Stats{
		ID:            s.ID,
		Mode:          s.mode,
		State:         s.State().String(),
		CreatedAt:     s.createdAt,
		GateOpen:      s.gate.Load(),
		PCMFrames:     s.pcmFrames.Load(),
		SpeakerFrames: s.speakerFrames.Load(),
		DroppedGated:  s.droppedGated.Load(),
		Bridge:        s.bridge.Stats(),
		Sink:          s.sink.Stats(),
	}

	if speaker := s.currentSpeaker.Load(); speaker != nil {
		stats.CurrentSpeaker = speaker.Name
	}

	if s.recorder != nil {
		stats.RecordedBytes = s.recorder.CapturedBytes()
	}

	return stats
}
