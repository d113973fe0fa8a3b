package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicereel/recognition-gateway/internal/audio"
	"github.com/voicereel/recognition-gateway/internal/config"
	"github.com/voicereel/recognition-gateway/internal/hotwords"
	"github.com/voicereel/recognition-gateway/internal/observability"
	"github.com/voicereel/recognition-gateway/internal/recognition"
)

// sender abstracts the client-facing side of a connection so the message
// flow can be tested without a live WebSocket.
type sender interface {
	send(msg ServerMessage) error
}

// wsSender serializes writes to one WebSocket connection. Session events
// arrive on provider goroutines while protocol replies come from the read
// loop, so writes need exclusion.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsSender) send(msg ServerMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

// Gateway terminates client WebSocket connections and bridges them to
// streaming recognition sessions.
type Gateway struct {
	cfg      *config.Config
	provider recognition.Provider
	registry *recognition.Registry
	hotWords hotwords.Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New creates a gateway over the given provider and session registry
func New(cfg *config.Config, provider recognition.Provider, registry *recognition.Registry, hw hotwords.Config) *Gateway {
	return &Gateway{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		hotWords: hw,
		logger:   observability.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the app origin; auth happens at
			// the provider layer, not here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler for the streaming recognition endpoint
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Error().Err(err).Msg("WebSocket upgrade failed")
			observability.RecordError("upgrade", "gateway")
			return
		}
		g.handleConnection(r.Context(), conn)
	}
}

func (g *Gateway) handleConnection(ctx context.Context, conn *websocket.Conn) {
	connectionID := uuid.New().String()
	logger := observability.WithConnectionID(connectionID)
	snd := &wsSender{conn: conn}

	observability.RecordConnectionOpened()
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")

	defer func() {
		g.registry.Remove(connectionID)
		conn.Close()
		observability.RecordConnectionClosed()
		logger.Info().Msg("Client disconnected")
	}()

	if err := snd.send(ServerMessage{Type: TypeConnected, ConnectionID: connectionID}); err != nil {
		logger.Error().Err(err).Msg("Failed to send connected message")
		return
	}

	st := &connState{}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Unexpected connection close")
			}
			return
		}

		g.dispatch(ctx, connectionID, snd, st, msgType, data, logger)
	}
}

// connState is per-connection bookkeeping owned by the read loop
type connState struct {
	firstFrameLogged bool
}

// dispatch routes one client frame. A panic while handling a message is
// reported to the client as a recognition error instead of killing the
// connection.
func (g *Gateway) dispatch(ctx context.Context, connectionID string, snd sender, st *connState, msgType int, data []byte, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Panic while handling client message")
			observability.RecordError("panic", "gateway")
			g.sendError(snd, connectionID, "internal error handling message")
		}
	}()

	if msgType == websocket.BinaryMessage {
		g.handleAudio(connectionID, snd, st, nil, data, logger)
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Err(err).Msg("Discarding malformed client message")
		return
	}

	switch msg.Type {
	case TypeStartRecognition:
		st.firstFrameLogged = false
		g.handleStart(ctx, connectionID, snd, logger)
	case TypeAudioData:
		g.handleAudio(connectionID, snd, st, msg.Audio, nil, logger)
	case TypeStopRecognition:
		g.handleStop(connectionID, snd, logger)
	default:
		logger.Warn().Str("type", msg.Type).Msg("Ignoring unknown message type")
	}
}

// handleStart creates (or replaces) the session for this connection. The
// credential check happens here, synchronously, so a misconfigured
// deployment fails before any provider traffic.
func (g *Gateway) handleStart(ctx context.Context, connectionID string, snd sender, logger zerolog.Logger) {
	if !g.cfg.HasCredential() {
		logger.Error().Msg("Recognition requested without provider credential")
		observability.RecordError("credential_missing", "gateway")
		g.sendError(snd, connectionID, recognition.ErrCredentialMissing.Error())
		return
	}

	streamCfg := recognition.StreamConfig{
		Model:      g.cfg.RecognitionModel,
		Format:     g.cfg.AudioFormat,
		SampleRate: g.cfg.SampleRate,
		HotWords:   g.hotWords.Active(),
	}
	stopGrace := time.Duration(g.cfg.StopGraceMs) * time.Millisecond

	sess := g.registry.Upsert(connectionID, func() *recognition.Session {
		return recognition.NewSession(connectionID, g.provider, streamCfg, stopGrace, func(ev recognition.Event) {
			g.relayEvent(connectionID, snd, ev, logger)
		})
	})
	sess.Start(ctx)
	observability.RecordSessionStarted()

	logger.Info().
		Str("model", streamCfg.Model).
		Int("hot_words", len(streamCfg.HotWords)).
		Msg("Recognition session started")

	if err := snd.send(ServerMessage{
		Type:         TypeRecognitionStarted,
		ConnectionID: connectionID,
		Status:       "started",
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to send recognition_started")
	}
}

// handleAudio decodes one audio frame and feeds it to the connection's
// session. A frame without a session is an error event; a frame that fails
// to decode is dropped with an error event, never fed.
func (g *Gateway) handleAudio(connectionID string, snd sender, st *connState, rawJSON json.RawMessage, binary []byte, logger zerolog.Logger) {
	sess, ok := g.registry.Lookup(connectionID)
	if !ok {
		logger.Warn().Msg("Audio frame for connection with no active session")
		observability.RecordError("no_active_session", "gateway")
		g.sendError(snd, connectionID, recognition.ErrNoActiveSession.Error())
		return
	}

	var samples []int16
	if rawJSON != nil {
		decoded, err := audio.DecodeJSONSamples(rawJSON)
		if err != nil {
			logger.Warn().Err(err).Msg("Dropping undecodable audio frame")
			observability.RecordError("invalid_audio", "gateway")
			g.sendError(snd, connectionID, err.Error())
			return
		}
		samples = decoded
	}

	frame, err := audio.DecodeFrame(samples, binary)
	if err != nil {
		logger.Warn().Err(err).Msg("Dropping empty audio frame")
		observability.RecordError("invalid_audio", "gateway")
		g.sendError(snd, connectionID, err.Error())
		return
	}

	if !st.firstFrameLogged {
		st.firstFrameLogged = true
		logger.Info().Int("bytes", len(frame)).Msg("First audio frame decoded")
	}

	sess.Feed(frame)
}

// handleStop ends the connection's session. Stopping with no session is a
// deliberate no-op: duplicate stops and stops after disconnect races are
// normal client behavior, not errors.
func (g *Gateway) handleStop(connectionID string, snd sender, logger zerolog.Logger) {
	sess, ok := g.registry.Lookup(connectionID)
	if !ok {
		logger.Debug().Msg("Stop requested with no active session")
		return
	}

	sess.Stop()
	g.registry.Remove(connectionID)

	if err := snd.send(ServerMessage{
		Type:         TypeRecognitionStopped,
		ConnectionID: connectionID,
		Status:       "stopped",
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to send recognition_stopped")
	}
}

// relayEvent translates one session event into the client protocol
func (g *Gateway) relayEvent(connectionID string, snd sender, ev recognition.Event, logger zerolog.Logger) {
	var msg ServerMessage
	switch ev.Kind {
	case recognition.EventOpened:
		msg = ServerMessage{Type: TypeRecognitionOpened, ConnectionID: connectionID, Status: "opened"}
	case recognition.EventResult:
		msg = ServerMessage{Type: TypeRecognitionResult, ConnectionID: connectionID, Transcript: ev.Text, IsFinal: boolPtr(false)}
	case recognition.EventCompleted:
		msg = ServerMessage{Type: TypeRecognitionComplete, ConnectionID: connectionID, Transcript: ev.Text, IsFinal: boolPtr(true)}
	case recognition.EventError:
		msg = ServerMessage{Type: TypeRecognitionError, ConnectionID: connectionID, Error: ev.Detail}
	case recognition.EventClosed:
		msg = ServerMessage{Type: TypeRecognitionClosed, ConnectionID: connectionID, Status: "closed"}
	default:
		return
	}

	if err := snd.send(msg); err != nil {
		logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to relay session event to client")
	}
}

func (g *Gateway) sendError(snd sender, connectionID, detail string) {
	if err := snd.send(ServerMessage{
		Type:         TypeRecognitionError,
		ConnectionID: connectionID,
		Error:        detail,
	}); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to send error message")
	}
}

// HotWordsHandler serves the loaded hot word configuration so clients can
// display which vocabulary is being boosted.
func (g *Gateway) HotWordsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.hotWords); err != nil {
			g.logger.Error().Err(err).Msg("Failed to encode hot words response")
		}
	}
}
