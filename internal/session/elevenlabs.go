package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsBaseURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// Config holds ElevenLabs client configuration.
type Config struct {
	AgentID          string
	APIKey           string // optional for public agents
	BaseURL          string // WebSocket endpoint
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // server pings keep the connection inside this
	WriteTimeout     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          elevenLabsBaseURL,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ElevenLabs is a Provider for the ElevenLabs Agents Platform.
type ElevenLabs struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.RWMutex
	conn           *websocket.Conn
	connected      bool
	closing        bool
	conversationID string
	outputRate     int
	done           chan struct{}

	writeMu sync.Mutex

	onAudio        func([]byte)
	onAudioDone    func()
	onTranscript   func(role, text string, final bool)
	onInterruption func()
	onError        func(error)
	onDisconnect   func(error)

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
}

// NewElevenLabs creates a client. Connect must be called before use.
func NewElevenLabs(cfg Config, logger *slog.Logger) *ElevenLabs {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		cfg:    cfg,
		logger: logger.With("component", "session.elevenlabs"),
	}
}

// Connect dials the conversation endpoint and starts reading events.
func (e *ElevenLabs) Connect(ctx context.Context) error {
	if e.cfg.AgentID == "" {
		return ErrMissingAgentID
	}

	e.mu.Lock()
	if e.connected {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.mu.Unlock()

	wsURL, err := url.Parse(e.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("session: invalid URL: %w", err)
	}
	q := wsURL.Query()
	q.Set("agent_id", e.cfg.AgentID)
	wsURL.RawQuery = q.Encode()

	headers := http.Header{}
	if e.cfg.APIKey != "" {
		headers.Set("xi-api-key", e.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: e.cfg.HandshakeTimeout,
	}

	e.logger.Info("connecting to agent", "agent_id", e.cfg.AgentID)

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return NewConnectionError("dial failed", err, true)
	}

	done := make(chan struct{})

	e.mu.Lock()
	e.conn = conn
	e.connected = true
	e.closing = false
	e.done = done
	e.mu.Unlock()

	go e.readLoop(conn, done)

	e.logger.Info("connected to agent")
	return nil
}

// Close ends the conversation.
func (e *ElevenLabs) Close() error {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	e.connected = false
	conn := e.conn
	done := e.done
	e.conn = nil
	e.mu.Unlock()

	e.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	e.writeMu.Unlock()

	err := conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.logger.Warn("reader did not exit after close")
	}

	e.logger.Info("disconnected from agent")
	return err
}

// IsConnected returns connection status.
func (e *ElevenLabs) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// ConversationID returns the id reported by the service, if any.
func (e *ElevenLabs) ConversationID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conversationID
}

// OutputSampleRate returns the agent audio sample rate, 0 if unknown.
func (e *ElevenLabs) OutputSampleRate() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outputRate
}

// SendAudio sends a PCM16 microphone chunk.
func (e *ElevenLabs) SendAudio(pcm []byte) error {
	return e.send(map[string]string{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (e *ElevenLabs) send(v any) error {
	e.mu.RLock()
	conn := e.conn
	connected := e.connected
	e.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewConnectionError("write failed", err, true)
	}

	e.messagesSent.Add(1)
	return nil
}

// OnAudio sets the agent audio callback.
func (e *ElevenLabs) OnAudio(fn func(pcm []byte)) {
	e.mu.Lock()
	e.onAudio = fn
	e.mu.Unlock()
}

// OnAudioDone sets the end-of-response callback.
func (e *ElevenLabs) OnAudioDone(fn func()) {
	e.mu.Lock()
	e.onAudioDone = fn
	e.mu.Unlock()
}

// OnTranscript sets the transcript callback.
func (e *ElevenLabs) OnTranscript(fn func(role, text string, final bool)) {
	e.mu.Lock()
	e.onTranscript = fn
	e.mu.Unlock()
}

// OnInterruption sets the interruption callback.
func (e *ElevenLabs) OnInterruption(fn func()) {
	e.mu.Lock()
	e.onInterruption = fn
	e.mu.Unlock()
}

// OnError sets the error callback.
func (e *ElevenLabs) OnError(fn func(err error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

// OnDisconnect sets the callback for connections dropped by the remote side.
func (e *ElevenLabs) OnDisconnect(fn func(err error)) {
	e.mu.Lock()
	e.onDisconnect = fn
	e.mu.Unlock()
}

func (e *ElevenLabs) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			intentional := e.closing
			if !intentional {
				e.connected = false
				e.conn = nil
			}
			cb := e.onDisconnect
			e.mu.Unlock()

			if intentional {
				return
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.logger.Info("connection closed by agent")
				err = nil
			} else {
				e.logger.Warn("read error", "error", err)
				err = NewConnectionError("read failed", err, true)
			}
			conn.Close()
			if cb != nil {
				cb(err)
			}
			return
		}

		e.messagesReceived.Add(1)

		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			e.logger.Warn("failed to parse message", "error", err)
			continue
		}
		e.handleMessage(msg)
	}
}

func (e *ElevenLabs) handleMessage(msg incoming) {
	e.mu.RLock()
	onAudio := e.onAudio
	onAudioDone := e.onAudioDone
	onTranscript := e.onTranscript
	onInterruption := e.onInterruption
	onError := e.onError
	e.mu.RUnlock()

	switch msg.Type {
	case "conversation_initiation_metadata":
		if m := msg.Metadata; m != nil {
			e.mu.Lock()
			e.conversationID = m.ConversationID
			e.outputRate = parsePCMRate(m.AgentOutputAudioFormat)
			e.mu.Unlock()
			e.logger.Info("conversation initiated",
				"conversation_id", m.ConversationID,
				"output_format", m.AgentOutputAudioFormat,
			)
		}

	case "audio":
		encoded := msg.Audio
		if msg.AudioEvent != nil && msg.AudioEvent.AudioBase64 != "" {
			encoded = msg.AudioEvent.AudioBase64
		}
		if encoded == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			e.logger.Warn("failed to decode audio", "error", err)
			return
		}
		if onAudio != nil {
			onAudio(pcm)
		}

	case "audio_done", "agent_response_done":
		if onAudioDone != nil {
			onAudioDone()
		}

	case "agent_response":
		text := msg.Text
		if msg.AgentResponse != nil {
			text = msg.AgentResponse.AgentResponse
		}
		if onTranscript != nil {
			onTranscript("agent", text, true)
		}

	case "user_transcript":
		text := msg.Text
		if msg.UserTranscription != nil {
			text = msg.UserTranscription.UserTranscript
		}
		if onTranscript != nil {
			onTranscript("user", text, true)
		}

	case "interruption":
		if onInterruption != nil {
			onInterruption()
		}

	case "ping":
		eventID := 0
		if msg.PingEvent != nil {
			eventID = msg.PingEvent.EventID
		}
		if err := e.send(map[string]any{"type": "pong", "event_id": eventID}); err != nil {
			e.logger.Debug("pong failed", "error", err)
		}

	case "error":
		if onError != nil {
			onError(&APIError{Code: msg.Code, Message: msg.Message})
		}

	default:
		e.logger.Debug("unhandled message type", "type", msg.Type)
	}
}

// parsePCMRate extracts the rate from formats like "pcm_16000".
func parsePCMRate(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0
	}
	rate, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return rate
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool   `json:"connected"`
	ConversationID   string `json:"conversation_id,omitempty"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
}

// GetStats returns client statistics.
func (e *ElevenLabs) GetStats() ClientStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return ClientStats{
		Connected:        e.connected,
		ConversationID:   e.conversationID,
		MessagesSent:     e.messagesSent.Load(),
		MessagesReceived: e.messagesReceived.Load(),
	}
}

type incoming struct {
	Type    string `json:"type"`
	Audio   string `json:"audio,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	Metadata *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`
}
