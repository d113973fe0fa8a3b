package gateway

import "encoding/json"

// Client-to-server message types
const (
	TypeStartRecognition = "start_recognition"
	TypeAudioData        = "audio_data"
	TypeStopRecognition  = "stop_recognition"
)

// Server-to-client message types
const (
	TypeConnected           = "connected"
	TypeRecognitionStarted  = "recognition_started"
	TypeRecognitionOpened   = "recognition_opened"
	TypeRecognitionResult   = "recognition_result"
	TypeRecognitionComplete = "recognition_complete"
	TypeRecognitionError    = "recognition_error"
	TypeRecognitionStopped  = "recognition_stopped"
	TypeRecognitionClosed   = "recognition_closed"
)

// ClientMessage is any JSON text frame from the client. Audio stays raw so
// the codec can accept either a sample array or a base64 byte string.
type ClientMessage struct {
	Type  string          `json:"type"`
	Audio json.RawMessage `json:"audio,omitempty"`
}

// ServerMessage is any JSON text frame to the client
type ServerMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId,omitempty"`
	Status       string `json:"status,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	IsFinal      *bool  `json:"isFinal,omitempty"`
	Error        string `json:"error,omitempty"`
}

func boolPtr(b bool) *bool { return &b }
