package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicereel/recognition-gateway/internal/config"
	"github.com/voicereel/recognition-gateway/internal/hotwords"
	"github.com/voicereel/recognition-gateway/internal/observability"
	"github.com/voicereel/recognition-gateway/internal/resilience"
)

// DashScope streaming task actions and events
const (
	actionRunTask    = "run-task"
	actionFinishTask = "finish-task"

	eventTaskStarted     = "task-started"
	eventResultGenerated = "result-generated"
	eventTaskFinished    = "task-finished"
	eventTaskFailed      = "task-failed"
)

// DashScopeClient implements Provider against the DashScope duplex
// inference WebSocket API (paraformer-realtime models).
type DashScopeClient struct {
	apiKey  string
	wsURL   string
	breaker *resilience.CircuitBreaker
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// NewDashScopeClient creates a provider client from service configuration
func NewDashScopeClient(cfg *config.Config) *DashScopeClient {
	return &DashScopeClient{
		apiKey: cfg.DashScopeAPIKey,
		wsURL:  cfg.DashScopeWSURL,
		breaker: resilience.NewCircuitBreaker(
			"dashscope",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: observability.WithComponent("dashscope"),
	}
}

// Open dials the provider, submits the recognition task and starts the
// event read loop. The stream is not usable for audio until the provider
// emits task-started (surfaced as EventOpened).
func (c *DashScopeClient) Open(ctx context.Context, sc StreamConfig, emit func(Event)) (Stream, error) {
	if c.apiKey == "" {
		return nil, ErrCredentialMissing
	}

	taskID := uuid.New().String()

	var conn *websocket.Conn
	err := c.breaker.Call(func() error {
		header := http.Header{}
		header.Set("Authorization", "bearer "+c.apiKey)

		dialed, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
		if err != nil {
			return fmt.Errorf("failed to dial provider: %w", err)
		}

		req := runTaskRequest{
			Header: requestHeader{
				Action:    actionRunTask,
				TaskID:    taskID,
				Streaming: "duplex",
			},
			Payload: runTaskPayload{
				TaskGroup: "audio",
				Task:      "asr",
				Function:  "recognition",
				Model:     sc.Model,
				Parameters: recognitionParameters{
					Format:     sc.Format,
					SampleRate: sc.SampleRate,
					HotWords:   sc.HotWords,
				},
				Input: struct{}{},
			},
		}
		if err := dialed.WriteJSON(req); err != nil {
			dialed.Close()
			return fmt.Errorf("failed to submit recognition task: %w", err)
		}

		conn = dialed
		return nil
	})

	observability.UpdateCircuitBreakerState("dashscope", int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("dashscope")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	c.logger.Info().
		Str("task_id", taskID).
		Str("model", sc.Model).
		Int("sample_rate", sc.SampleRate).
		Int("hot_words", len(sc.HotWords)).
		Msg("Recognition task submitted")

	st := &dashScopeStream{
		conn:   conn,
		taskID: taskID,
		emit:   emit,
		logger: c.logger.With().Str("task_id", taskID).Logger(),
	}
	go st.readLoop()

	return st, nil
}

// dashScopeStream is one open recognition task. Writes are serialized by
// writeMu; reads happen on the single readLoop goroutine, which also owns
// event emission ordering.
type dashScopeStream struct {
	conn   *websocket.Conn
	taskID string
	emit   func(Event)
	logger zerolog.Logger

	writeMu  sync.Mutex
	finished bool

	// set by readLoop only
	emptyResultLogged bool
	closedEmitted     bool
}

// SendFrame forwards one binary audio frame to the provider
func (st *dashScopeStream) SendFrame(frame []byte) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if st.finished {
		return fmt.Errorf("recognition task %s already finishing", st.taskID)
	}
	if err := st.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

// Close requests graceful task completion. The provider answers with
// task-finished and closes the socket; confirmation reaches the session
// through EventCompleted/EventClosed from the read loop.
func (st *dashScopeStream) Close() error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if st.finished {
		return nil
	}
	st.finished = true

	req := finishTaskRequest{
		Header: requestHeader{
			Action:    actionFinishTask,
			TaskID:    st.taskID,
			Streaming: "duplex",
		},
		Payload: finishTaskPayload{Input: struct{}{}},
	}
	if err := st.conn.WriteJSON(req); err != nil {
		// The socket is unusable; tear it down so the read loop unblocks
		// and reports closure.
		st.conn.Close()
		return fmt.Errorf("failed to request task completion: %w", err)
	}
	return nil
}

// readLoop translates provider messages into Events. DashScope delivers
// task events strictly in order on this one connection, which gives each
// session its per-session ordering guarantee.
func (st *dashScopeStream) readLoop() {
	defer func() {
		st.conn.Close()
		st.emitClosed()
	}()

	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if !st.isFinished() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st.logger.Warn().Err(err).Msg("Provider stream read error")
				st.emit(Event{Kind: EventError, Detail: err.Error()})
			}
			return
		}

		var env eventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			st.logger.Error().Err(err).Msg("Failed to parse provider message")
			continue
		}

		switch env.Header.Event {
		case eventTaskStarted:
			st.logger.Info().Msg("Provider confirmed stream open")
			st.emit(Event{Kind: EventOpened})

		case eventResultGenerated:
			text := extractTranscript(env.Payload)
			if text == "" {
				if !st.emptyResultLogged {
					st.logger.Warn().
						RawJSON("payload", truncateJSON(env.Payload, 512)).
						Msg("No transcript in provider result")
					st.emptyResultLogged = true
				}
				continue
			}
			st.emit(Event{Kind: EventResult, Text: text})

		case eventTaskFinished:
			st.logger.Info().Msg("Provider finished recognition task")
			st.emit(Event{Kind: EventCompleted})
			return

		case eventTaskFailed:
			detail := env.Header.ErrorMessage
			if detail == "" {
				detail = env.Header.ErrorCode
			}
			st.logger.Error().
				Str("error_code", env.Header.ErrorCode).
				Str("error_message", env.Header.ErrorMessage).
				Msg("Provider task failed")
			st.emit(Event{Kind: EventError, Detail: detail})
			return

		default:
			st.logger.Debug().
				Str("event", env.Header.Event).
				Msg("Ignoring unknown provider event")
		}
	}
}

func (st *dashScopeStream) isFinished() bool {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return st.finished
}

// emitClosed fires exactly once, from the read loop teardown path
func (st *dashScopeStream) emitClosed() {
	if st.closedEmitted {
		return
	}
	st.closedEmitted = true
	st.emit(Event{Kind: EventClosed})
}

func truncateJSON(data json.RawMessage, max int) json.RawMessage {
	if len(data) <= max {
		return data
	}
	return data[:max]
}

// Wire types for the DashScope duplex task protocol

type requestHeader struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id"`
	Streaming string `json:"streaming"`
}

type runTaskRequest struct {
	Header  requestHeader  `json:"header"`
	Payload runTaskPayload `json:"payload"`
}

type runTaskPayload struct {
	TaskGroup  string                `json:"task_group"`
	Task       string                `json:"task"`
	Function   string                `json:"function"`
	Model      string                `json:"model"`
	Parameters recognitionParameters `json:"parameters"`
	Input      struct{}              `json:"input"`
}

type recognitionParameters struct {
	Format     string             `json:"format"`
	SampleRate int                `json:"sample_rate"`
	HotWords   []hotwords.HotWord `json:"hot_words,omitempty"`
}

type finishTaskRequest struct {
	Header  requestHeader     `json:"header"`
	Payload finishTaskPayload `json:"payload"`
}

type finishTaskPayload struct {
	Input struct{} `json:"input"`
}

type eventEnvelope struct {
	Header  eventHeader     `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

type eventHeader struct {
	Event        string `json:"event"`
	TaskID       string `json:"task_id"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
