package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicereel/recognition-gateway/internal/config"
	"github.com/voicereel/recognition-gateway/internal/hotwords"
	"github.com/voicereel/recognition-gateway/internal/observability"
	"github.com/voicereel/recognition-gateway/internal/recognition"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []ServerMessage
}

func (f *fakeSender) send(msg ServerMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) snapshot() []ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ServerMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeSender) lastOfType(msgType string) (ServerMessage, bool) {
	var found ServerMessage
	ok := false
	for _, m := range f.snapshot() {
		if m.Type == msgType {
			found = m
			ok = true
		}
	}
	return found, ok
}

type fakeStream struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeStream) SendFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeProvider struct {
	mu     sync.Mutex
	stream *fakeStream
	emit   func(recognition.Event)
}

func (p *fakeProvider) Open(ctx context.Context, cfg recognition.StreamConfig, emit func(recognition.Event)) (recognition.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = &fakeStream{}
	p.emit = emit
	return p.stream, nil
}

func (p *fakeProvider) fire(ev recognition.Event) {
	p.mu.Lock()
	emit := p.emit
	p.mu.Unlock()
	emit(ev)
}

func testConfig(apiKey string) *config.Config {
	return &config.Config{
		DashScopeAPIKey:  apiKey,
		RecognitionModel: "paraformer-realtime-v2",
		AudioFormat:      "pcm",
		SampleRate:       16000,
		StopGraceMs:      100,
	}
}

func testGateway(apiKey string) (*Gateway, *fakeProvider) {
	provider := &fakeProvider{}
	g := New(testConfig(apiKey), provider, recognition.NewRegistry(), hotwords.Empty())
	return g, provider
}

func waitForEmit(t *testing.T, provider *fakeProvider) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		provider.mu.Lock()
		ready := provider.emit != nil
		provider.mu.Unlock()
		if ready {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for provider open")
}

func TestHandleStart_WithoutCredential(t *testing.T) {
	g, _ := testGateway("")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)

	msg, ok := snd.lastOfType(TypeRecognitionError)
	if !ok {
		t.Fatal("Expected a recognition_error message")
	}
	if msg.Error != recognition.ErrCredentialMissing.Error() {
		t.Errorf("Unexpected error text: %q", msg.Error)
	}
	if g.registry.Len() != 0 {
		t.Error("No session should be created without a credential")
	}
}

func TestHandleStart_CreatesSessionAndAcknowledges(t *testing.T) {
	g, _ := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)

	msg, ok := snd.lastOfType(TypeRecognitionStarted)
	if !ok {
		t.Fatal("Expected a recognition_started message")
	}
	if msg.ConnectionID != "conn-1" || msg.Status != "started" {
		t.Errorf("Unexpected started message: %+v", msg)
	}
	if _, ok := g.registry.Lookup("conn-1"); !ok {
		t.Error("Expected a registered session")
	}
}

func TestHandleStart_ReplacesExistingSession(t *testing.T) {
	g, _ := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)
	first, _ := g.registry.Lookup("conn-1")
	g.handleStart(context.Background(), "conn-1", snd, logger)
	second, _ := g.registry.Lookup("conn-1")

	if first == second {
		t.Error("Expected a fresh session on repeated start")
	}
	if g.registry.Len() != 1 {
		t.Errorf("Expected exactly one live session, got %d", g.registry.Len())
	}
}

func TestHandleAudio_NoActiveSession(t *testing.T) {
	g, _ := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleAudio("conn-1", snd, &connState{}, nil, []byte{0x01, 0x02}, logger)

	msg, ok := snd.lastOfType(TypeRecognitionError)
	if !ok {
		t.Fatal("Expected a recognition_error message")
	}
	if msg.Error != recognition.ErrNoActiveSession.Error() {
		t.Errorf("Unexpected error text: %q", msg.Error)
	}
}

func TestHandleAudio_FeedsDecodedFrame(t *testing.T) {
	g, provider := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)
	waitForEmit(t, provider)
	provider.fire(recognition.Event{Kind: recognition.EventOpened})

	// The session attaches its stream asynchronously after open; frames
	// fed before that are dropped, so retry until one lands.
	deadline := time.Now().Add(2 * time.Second)
	for provider.stream.frameCount() == 0 && time.Now().Before(deadline) {
		g.handleAudio("conn-1", snd, &connState{}, json.RawMessage(`[1, -1, 256]`), nil, logger)
		time.Sleep(5 * time.Millisecond)
	}
	if provider.stream.frameCount() == 0 {
		t.Fatal("Timed out waiting for a forwarded frame")
	}
	provider.stream.mu.Lock()
	frame := provider.stream.frames[0]
	provider.stream.mu.Unlock()

	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x01}
	if len(frame) != len(want) {
		t.Fatalf("Expected %d-byte frame, got %d", len(want), len(frame))
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Errorf("Frame byte %d: expected %#02x, got %#02x", i, want[i], frame[i])
		}
	}
}

func TestHandleAudio_DropsUndecodableFrame(t *testing.T) {
	g, provider := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)
	waitForEmit(t, provider)
	provider.fire(recognition.Event{Kind: recognition.EventOpened})

	g.handleAudio("conn-1", snd, &connState{}, json.RawMessage(`[99999]`), nil, logger)

	if _, ok := snd.lastOfType(TypeRecognitionError); !ok {
		t.Error("Expected a recognition_error for an out-of-range sample")
	}
	if provider.stream.frameCount() != 0 {
		t.Errorf("Undecodable frame must not be fed, got %d frames", provider.stream.frameCount())
	}
}

func TestHandleStop_NoSessionIsSilent(t *testing.T) {
	g, _ := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStop("conn-1", snd, logger)

	if msgs := snd.snapshot(); len(msgs) != 0 {
		t.Errorf("Expected no messages for stop with no session, got %+v", msgs)
	}
}

func TestHandleStop_StopsAndAcknowledges(t *testing.T) {
	g, provider := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)
	waitForEmit(t, provider)
	provider.fire(recognition.Event{Kind: recognition.EventOpened})

	g.handleStop("conn-1", snd, logger)

	msg, ok := snd.lastOfType(TypeRecognitionStopped)
	if !ok {
		t.Fatal("Expected a recognition_stopped message")
	}
	if msg.Status != "stopped" {
		t.Errorf("Unexpected stopped message: %+v", msg)
	}
	if _, ok := g.registry.Lookup("conn-1"); ok {
		t.Error("Expected session removed after stop")
	}

	// A second stop is a silent no-op
	before := len(snd.snapshot())
	g.handleStop("conn-1", snd, logger)
	if len(snd.snapshot()) != before {
		t.Error("Repeated stop must not emit further messages")
	}
}

func TestRelayEvent_ProtocolMapping(t *testing.T) {
	g, provider := testGateway("sk-test")
	snd := &fakeSender{}
	logger := observability.WithConnectionID("conn-1")

	g.handleStart(context.Background(), "conn-1", snd, logger)
	waitForEmit(t, provider)

	provider.fire(recognition.Event{Kind: recognition.EventOpened})
	provider.fire(recognition.Event{Kind: recognition.EventResult, Text: "he"})
	provider.fire(recognition.Event{Kind: recognition.EventResult, Text: "hello"})
	provider.fire(recognition.Event{Kind: recognition.EventCompleted})
	provider.fire(recognition.Event{Kind: recognition.EventClosed})

	var seq []string
	for _, m := range snd.snapshot() {
		if m.Type != TypeRecognitionStarted {
			seq = append(seq, m.Type)
		}
	}
	want := []string{
		TypeRecognitionOpened,
		TypeRecognitionResult,
		TypeRecognitionResult,
		TypeRecognitionComplete,
		TypeRecognitionClosed,
	}
	if len(seq) != len(want) {
		t.Fatalf("Expected %d relayed messages, got %d: %v", len(want), len(seq), seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("Message %d: expected %s, got %s", i, want[i], seq[i])
		}
	}

	complete, _ := snd.lastOfType(TypeRecognitionComplete)
	if complete.Transcript != "hello" {
		t.Errorf("Expected complete event to carry the last text, got %q", complete.Transcript)
	}
	if complete.IsFinal == nil || !*complete.IsFinal {
		t.Error("Expected complete event isFinal true")
	}

	result, _ := snd.lastOfType(TypeRecognitionResult)
	if result.IsFinal == nil || *result.IsFinal {
		t.Error("Expected result events isFinal false")
	}
}

func TestHotWordsHandler(t *testing.T) {
	cfg := hotwords.Config{
		HotWords: []hotwords.HotWord{{Word: "paraformer", Weight: 5}},
		Settings: hotwords.Settings{Enabled: true},
	}
	g := New(testConfig("sk-test"), &fakeProvider{}, recognition.NewRegistry(), cfg)

	req := httptest.NewRequest("GET", "/api/hot-words", nil)
	rec := httptest.NewRecorder()
	g.HotWordsHandler()(rec, req)

	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var got hotwords.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.HotWords) != 1 || got.HotWords[0].Word != "paraformer" {
		t.Errorf("Unexpected response: %+v", got)
	}

	post := httptest.NewRequest("POST", "/api/hot-words", nil)
	rec = httptest.NewRecorder()
	g.HotWordsHandler()(rec, post)
	if rec.Code != 405 {
		t.Errorf("Expected 405 for POST, got %d", rec.Code)
	}
}
