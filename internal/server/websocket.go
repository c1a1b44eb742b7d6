package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-orb/internal/orb"
	"github.com/teslashibe/go-orb/internal/protocol"
	"github.com/teslashibe/go-orb/internal/state"
)

// wsClient serializes writes to one connection.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages orb stream connections. It broadcasts frames on a fixed
// interval and state, transcript and error messages as they change.
type WSHub struct {
	machine  *state.Machine
	animator *orb.Animator
	session  SessionController
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	stop     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(machine *state.Machine, animator *orb.Animator, sess SessionController, interval time.Duration, logger *slog.Logger) *WSHub {
	return &WSHub{
		machine:  machine,
		animator: animator,
		session:  sess,
		interval: interval,
		logger:   logger,
		clients:  make(map[*websocket.Conn]*wsClient),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run starts the broadcast loop. It returns when ctx is done or Close is
// called, and only one Run may be active.
func (h *WSHub) Run(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	select {
	case <-h.stop:
		return
	default:
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var changes chan state.Snapshot
	if h.machine != nil {
		changes = h.machine.Subscribe()
		defer h.machine.Unsubscribe(changes)
	}

	var last state.Snapshot
	if h.machine != nil {
		last = h.machine.Snapshot()
	}

	h.logger.Info("websocket hub started", "interval", h.interval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return

		case <-h.stop:
			h.logger.Info("websocket hub closed")
			return

		case snap, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			h.publishChanges(last, snap)
			last = snap

		case <-ticker.C:
			if h.animator == nil {
				continue
			}
			msg, err := protocol.NewFrameMessage(frameData(h.animator.Latest()))
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

// publishChanges sends what differs between two snapshots.
func (h *WSHub) publishChanges(prev, next state.Snapshot) {
	if next.Phase != prev.Phase || next.SessionID != prev.SessionID {
		if msg, err := protocol.NewStateMessage(stateData(next)); err == nil {
			h.broadcast(msg)
		}
		h.logger.Debug("phase change", "from", prev.Phase, "to", next.Phase)
	}
	if next.Transcript != "" && next.Transcript != prev.Transcript {
		if msg, err := protocol.NewTranscriptMessage(next.Transcript); err == nil {
			h.broadcast(msg)
		}
	}
	if next.Error != "" && next.Error != prev.Error {
		if msg, err := protocol.NewErrorMessage(next.Error); err == nil {
			h.broadcast(msg)
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "client", c.id, "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the orb stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	client := &wsClient{id: uuid.NewString(), conn: c}

	h.mu.Lock()
	h.clients[c] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"client", client.id,
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"client", client.id,
			"clients", clientCount,
		)
	}()

	// new clients get the current state right away
	if h.machine != nil {
		h.reply(client, protocol.TypeState, stateData(h.machine.Snapshot()))
	}

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		h.handleCommand(client, msg)
	}
}

// handleCommand accepts {"type":"ping"}, {"type":"get_stats"} and
// {"type":"command","data":{"action":"start_session"}}.
func (h *WSHub) handleCommand(client *wsClient, raw []byte) {
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		h.reply(client, protocol.TypeError, protocol.ErrorData{Message: err.Error()})
		return
	}

	action := string(msg.Type)
	if msg.Type == protocol.TypeCommand {
		cmd, err := msg.GetCommand()
		if err != nil {
			h.reply(client, protocol.TypeError, protocol.ErrorData{Message: err.Error()})
			return
		}
		action = cmd.Action
	}

	switch action {
	case string(protocol.TypePing):
		if pong, err := protocol.NewPongMessage(); err == nil {
			h.send(client, pong)
		}

	case protocol.ActionGetStats:
		h.reply(client, protocol.TypeStats, h.stats())

	case protocol.ActionStartSession, protocol.ActionEndSession:
		if h.session == nil {
			h.reply(client, protocol.TypeError, protocol.ErrorData{Message: "session not available"})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
		defer cancel()

		if action == protocol.ActionStartSession {
			err = h.session.Start(ctx)
		} else {
			err = h.session.End(ctx)
		}
		if err != nil {
			h.reply(client, protocol.TypeError, protocol.ErrorData{Message: err.Error()})
			return
		}
		if h.machine != nil {
			h.reply(client, protocol.TypeState, stateData(h.machine.Snapshot()))
		}

	default:
		h.logger.Debug("unknown websocket command", "client", client.id, "type", action)
	}
}

func (h *WSHub) reply(client *wsClient, t protocol.MessageType, data any) {
	msg, err := protocol.NewMessage(t, data)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}
	h.send(client, msg)
}

func (h *WSHub) send(client *wsClient, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	if err := client.write(data); err != nil {
		h.logger.Debug("websocket write error", "client", client.id, "error", err)
	}
}

func (h *WSHub) stats() map[string]any {
	out := map[string]any{"clients": h.ClientCount()}
	if h.animator != nil {
		out["orb"] = h.animator.Stats()
	}
	if h.session != nil {
		out["session"] = h.session.Stats()
	}
	return out
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.started.Load() {
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*wsClient)
	h.mu.Unlock()
}

func frameData(f orb.Frame) protocol.FrameData {
	return protocol.FrameData{
		Mode:      f.Mode.String(),
		Intensity: f.Intensity,
		Target:    f.Target,
		Yaw:       f.Yaw,
		Pitch:     f.Pitch,
		Clock:     f.Clock,
		Revision:  f.Revision,
		StarYaw:   f.StarYaw,
	}
}

func stateData(s state.Snapshot) protocol.StateData {
	return protocol.StateData{
		Phase:      s.Phase.String(),
		Mode:       s.Mode.String(),
		Connected:  s.Connected,
		Volume:     s.Volume,
		Transcript: s.Transcript,
		Error:      s.Error,
		SessionID:  s.SessionID,
	}
}
