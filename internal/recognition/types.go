package recognition

import (
	"context"
	"errors"

	"github.com/voicereel/recognition-gateway/internal/hotwords"
)

// Error kinds surfaced to clients as recognition_error events. None of them
// terminate the client connection.
var (
	// ErrCredentialMissing indicates no provider credential is configured
	ErrCredentialMissing = errors.New("DASHSCOPE_API_KEY not configured")

	// ErrNoActiveSession indicates a client action referenced a connection
	// with no live session
	ErrNoActiveSession = errors.New("no active recognition session")

	// ErrProviderUnavailable indicates the provider rejected the stream
	// open request synchronously
	ErrProviderUnavailable = errors.New("recognition provider unavailable")
)

// EventKind tags a provider callback event
type EventKind string

const (
	EventOpened    EventKind = "opened"    // Provider confirmed the stream is open
	EventResult    EventKind = "result"    // Partial or final transcript segment
	EventCompleted EventKind = "completed" // Provider finished the transcription task
	EventError     EventKind = "error"     // Asynchronous provider failure
	EventClosed    EventKind = "closed"    // Provider stream closed
)

// Event is the single tagged type carrying all provider callbacks.
// Text is set for Result and Completed events; Detail for Error events.
type Event struct {
	Kind   EventKind
	Text   string
	Detail string
}

// StreamConfig describes one provider stream
type StreamConfig struct {
	Model      string
	Format     string
	SampleRate int
	HotWords   []hotwords.HotWord
}

// Stream is one open provider connection
type Stream interface {
	// SendFrame forwards a raw audio frame. Hard write failures are also
	// reported through the event callback.
	SendFrame(frame []byte) error

	// Close requests graceful closure of the provider stream
	Close() error
}

// Provider opens streaming recognition connections.
// Events are delivered on the provider's read goroutine, strictly ordered
// per stream; streams for different sessions run concurrently.
type Provider interface {
	Open(ctx context.Context, cfg StreamConfig, emit func(Event)) (Stream, error)
}
