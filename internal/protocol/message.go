// Package protocol defines the WebSocket messages of the orb stream.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client
	TypeFrame      MessageType = "frame"      // Orb animation frame
	TypeState      MessageType = "state"      // Conversation state change
	TypeTranscript MessageType = "transcript" // Latest transcript line
	TypeError      MessageType = "error"      // User-visible error
	TypeStats      MessageType = "stats"      // Reply to get_stats

	// Client → server
	TypeCommand MessageType = "command"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Command actions accepted from clients.
const (
	ActionStartSession = "start_session"
	ActionEndSession   = "end_session"
	ActionGetStats     = "get_stats"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// FrameData is one orb animation step.
type FrameData struct {
	Mode      string  `json:"mode"`
	Intensity float64 `json:"intensity"`
	Target    float64 `json:"target"`
	Yaw       float64 `json:"yaw"`
	Pitch     float64 `json:"pitch"`
	Clock     float64 `json:"clock"`
	Revision  uint64  `json:"revision"`
	StarYaw   float64 `json:"star_yaw,omitempty"`
}

// NewFrameMessage creates a frame message
func NewFrameMessage(f FrameData) (*Message, error) {
	return NewMessage(TypeFrame, f)
}

// StateData mirrors the conversation state.
type StateData struct {
	Phase      string  `json:"phase"`
	Mode       string  `json:"mode"`
	Connected  bool    `json:"connected"`
	Volume     float64 `json:"volume"`
	Transcript string  `json:"transcript,omitempty"`
	Error      string  `json:"error,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
}

// NewStateMessage creates a state message
func NewStateMessage(s StateData) (*Message, error) {
	return NewMessage(TypeState, s)
}

// GetState extracts state data from a message
func (m *Message) GetState() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// TranscriptData carries transcript text.
type TranscriptData struct {
	Text string `json:"text"`
}

// NewTranscriptMessage creates a transcript message
func NewTranscriptMessage(text string) (*Message, error) {
	return NewMessage(TypeTranscript, TranscriptData{Text: text})
}

// ErrorData carries a user-visible error.
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(text string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: text})
}

// GetError extracts error data from a message
func (m *Message) GetError() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CommandData is a client request.
type CommandData struct {
	Action string `json:"action"`
}

// NewCommandMessage creates a command message
func NewCommandMessage(action string) (*Message, error) {
	return NewMessage(TypeCommand, CommandData{Action: action})
}

// GetCommand extracts the command from a message
func (m *Message) GetCommand() (*CommandData, error) {
	var data CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Action == "" {
		return nil, fmt.Errorf("command without action")
	}
	return &data, nil
}

// NewPongMessage answers a ping.
func NewPongMessage() (*Message, error) {
	return NewMessage(TypePong, map[string]int64{"server_time": time.Now().Unix()})
}
