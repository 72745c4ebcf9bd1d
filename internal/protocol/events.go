package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Server event types sent to the client as JSON text frames. Audio is sent
// as raw binary frames with no envelope.
const (
	EventTranscription = "transcription"
	EventStatus        = "status"
	EventTextDelta     = "text_delta"
	EventError         = "error"
	EventResponseDone  = "response_done"
	EventPong          = "pong"
)

const (
	StatusThinking  = "thinking"
	StatusSpeaking  = "speaking"
	StatusListening = "listening"
)

// ServerEvent is the wire form of every outbound structured frame.
type ServerEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	Status  string `json:"status,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Message string `json:"message,omitempty"`
}

func Transcription(text, role string) ServerEvent {
	return ServerEvent{Type: EventTranscription, Text: text, Role: role}
}

func Status(status string) ServerEvent {
	return ServerEvent{Type: EventStatus, Status: status}
}

func TextDelta(delta string) ServerEvent {
	return ServerEvent{Type: EventTextDelta, Delta: delta}
}

func ErrorEvent(message string) ServerEvent {
	return ServerEvent{Type: EventError, Message: message}
}

func ResponseDone() ServerEvent {
	return ServerEvent{Type: EventResponseDone}
}

func Pong() ServerEvent {
	return ServerEvent{Type: EventPong}
}

func (e ServerEvent) Encode() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("server event missing type")
	}
	return json.Marshal(e)
}

var (
	ErrMalformedFrame = errors.New("malformed client frame")
	ErrUnknownType    = errors.New("unknown client message type")
)

// ClientMessage is a structured inbound text frame. Utterance audio arrives
// as binary frames and never passes through here.
type ClientMessage struct {
	Type string `json:"type"`
}

const ClientPing = "ping"

func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch msg.Type {
	case ClientPing:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Bus subjects for the optional observer tap.
const (
	SubjectTranscriptUser      = "parley.transcript.user"
	SubjectTranscriptAssistant = "parley.transcript.assistant"
	SubjectTurnStatus          = "parley.turn.status"
)

// Transcript is a committed utterance broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnStatus reports turn lifecycle transitions on the bus.
type TurnStatus struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}
