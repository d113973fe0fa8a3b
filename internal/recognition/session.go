package recognition

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicereel/recognition-gateway/internal/observability"
)

// State is the lifecycle state of a recognition session
type State int32

const (
	StateCreated  State = iota // Constructed, provider handshake pending
	StateActive                // Provider confirmed the stream is open
	StateStopping              // Closure requested, awaiting confirmation
	StateClosed                // Terminal; the session cannot be reused
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// frameLogInterval controls the periodic progress log while feeding audio
const frameLogInterval = 50

// Session wraps one provider stream bound to exactly one client connection.
// All state transitions are serialized by the session mutex; provider events
// for a session are additionally ordered by the provider's read goroutine.
type Session struct {
	connectionID string
	provider     Provider
	cfg          StreamConfig
	notify       func(Event)
	stopGrace    time.Duration
	logger       zerolog.Logger
	startedAt    time.Time

	mu         sync.Mutex
	state      State
	stream     Stream
	finalText  string
	frameCount uint64
	byteCount  uint64
	graceTimer *time.Timer
}

// NewSession creates a session in the CREATED state. notify receives every
// provider event after the session has applied its state transition.
func NewSession(connectionID string, provider Provider, cfg StreamConfig, stopGrace time.Duration, notify func(Event)) *Session {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Session{
		connectionID: connectionID,
		provider:     provider,
		cfg:          cfg,
		notify:       notify,
		stopGrace:    stopGrace,
		logger:       observability.WithConnectionID(connectionID),
		startedAt:    time.Now(),
		state:        StateCreated,
	}
}

// Start opens the provider stream asynchronously. It returns immediately;
// the transition to ACTIVE happens when the provider emits Opened. A
// synchronous open failure surfaces as Error followed by Closed events.
func (s *Session) Start(ctx context.Context) {
	go func() {
		stream, err := s.provider.Open(ctx, s.cfg, s.handleEvent)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to open provider stream")
			observability.RecordError("provider_open", "recognition")
			s.handleEvent(Event{Kind: EventError, Detail: err.Error()})
			s.handleEvent(Event{Kind: EventClosed})
			return
		}

		s.mu.Lock()
		if s.state == StateClosed || s.state == StateStopping {
			// Stopped before the handshake finished; the stop request was
			// premature from the provider's perspective, so close now.
			s.mu.Unlock()
			if closeErr := stream.Close(); closeErr != nil {
				s.logger.Warn().Err(closeErr).Msg("Failed to close stream opened after stop")
			}
			return
		}
		s.stream = stream
		s.mu.Unlock()
	}()
}

// Feed forwards one raw audio frame to the provider. Outside the ACTIVE
// state this is a no-op with a warning: a late frame racing a stop must not
// be a fatal error. Send failures are reported through the provider's
// asynchronous error callback, never to the caller.
func (s *Session) Feed(frame []byte) {
	s.mu.Lock()
	if s.state != StateActive || s.stream == nil {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn().
			Str("state", state.String()).
			Int("bytes", len(frame)).
			Msg("Dropping audio frame outside active state")
		return
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.SendFrame(frame); err != nil {
		// The stream reports the failure via the error callback as well
		s.logger.Error().Err(err).Msg("Failed to send audio frame to provider")
		observability.RecordError("provider_send", "recognition")
		return
	}

	s.mu.Lock()
	s.frameCount++
	s.byteCount += uint64(len(frame))
	frames, bytes := s.frameCount, s.byteCount
	s.mu.Unlock()

	observability.RecordAudioFrame(len(frame))

	if frames%frameLogInterval == 0 {
		s.logger.Info().
			Uint64("frames", frames).
			Uint64("bytes", bytes).
			Msg("Audio frames forwarded")
	}
}

// Stop requests graceful closure of the provider stream. The session enters
// STOPPING immediately and CLOSED when the provider confirms, or after the
// grace period elapses without confirmation (treated as already closed so
// the session never leaks).
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	stream := s.stream
	if stream == nil {
		// Never opened; nothing to await
		s.state = StateClosed
		s.mu.Unlock()
		s.recordEnded()
		return
	}
	s.graceTimer = time.AfterFunc(s.stopGrace, s.forceClose)
	s.mu.Unlock()

	go func() {
		if err := stream.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Provider stream close request failed")
		}
	}()
}

// forceClose fires when the provider never confirmed closure
func (s *Session) forceClose() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Warn().
		Dur("grace", s.stopGrace).
		Msg("No close confirmation from provider within grace period, treating session as closed")
	s.recordEnded()
}

// handleEvent applies one provider event to the session state machine and
// relays it to the notifier. Events for one session arrive in order on a
// single goroutine; the mutex only guards against concurrent Feed/Stop.
func (s *Session) handleEvent(ev Event) {
	forward := true

	s.mu.Lock()
	switch ev.Kind {
	case EventOpened:
		if s.state == StateCreated {
			s.state = StateActive
		}

	case EventResult:
		// accumulatedFinalText is only ever overwritten by a later event
		if ev.Text != "" {
			s.finalText = ev.Text
		}

	case EventCompleted:
		// The terminal transcript is the last text seen, not the first
		ev.Text = s.finalText
		if s.state != StateClosed {
			s.state = StateStopping
		}

	case EventError:
		if s.state != StateClosed {
			s.state = StateStopping
		}

	case EventClosed:
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		if s.state == StateClosed {
			// Already force-closed; suppress the duplicate notification
			forward = false
		} else {
			s.state = StateClosed
			defer s.recordEnded()
		}
	}
	s.mu.Unlock()

	observability.RecordRecognitionEvent(string(ev.Kind))
	if forward {
		s.notify(ev)
	}
}

func (s *Session) recordEnded() {
	observability.RecordSessionEnded(time.Since(s.startedAt).Seconds())
}

// ConnectionID returns the owning connection identity
func (s *Session) ConnectionID() string {
	return s.connectionID
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FinalText returns the last known best transcript
func (s *Session) FinalText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalText
}

// Counters returns the monotonic frame and byte counters
func (s *Session) Counters() (frames, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCount, s.byteCount
}
