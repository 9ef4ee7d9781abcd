package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rxtools/scanrec/internal/presence"
	"github.com/rxtools/scanrec/internal/types"
)

const (
	// sendQueueSize bounds per-client outbound messages.
	sendQueueSize = 64

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// client is one connected WebSocket client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// Hub manages WebSocket clients and pushes status updates to them.
// Client lifecycle events feed the presence tracker.
type Hub struct {
	tracker  *presence.Tracker
	handler  *CommandHandler
	statusFn func() types.StatusReport

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a hub. statusFn builds the report pushed to clients.
func NewHub(tracker *presence.Tracker, handler *CommandHandler, statusFn func() types.StatusReport) *Hub {
	return &Hub{
		tracker:  tracker,
		handler:  handler,
		statusFn: statusFn,
		clients:  make(map[string]*client),
	}
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := UpgradeConnection(w, r)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan any, sendQueueSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.tracker.ClientConnected(c.id, r.RemoteAddr, r.UserAgent())
	slog.Info("WebSocket client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)

	// Push the current status so new clients render immediately.
	h.sendStatus(c)

	h.readPump(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(c.send)
	h.tracker.ClientDisconnected(c.id)
	slog.Info("WebSocket client disconnected", "client_id", c.id)
}

// readPump reads commands until the connection drops.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		h.tracker.ClientActivity(c.id)
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var cmd WSCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read failed", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		h.tracker.ClientActivity(c.id)

		h.handler.Handle(cmd, c.send, func() { h.sendStatus(c) })
	}
}

// writePump serializes writes for one client, interleaving pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("WebSocket write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// sendStatus pushes the current status report to one client.
func (h *Hub) sendStatus(c *client) {
	trySend(c.send, "status", map[string]any{
		"type": "status",
		"data": h.statusFn(),
	})
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		trySend(c.send, "broadcast", msg)
	}
}

// BroadcastRecordingStatus notifies all clients of a capture start or stop.
func (h *Hub) BroadcastRecordingStatus(recording bool, frequencyHz uint64) {
	h.Broadcast(types.WSRecordingStatus{
		Type:        "recording_status",
		Recording:   recording,
		FrequencyHz: frequencyHz,
	})
}

// BroadcastStateChange notifies all clients of an orchestrator transition.
func (h *Hub) BroadcastStateChange(state types.AutoModeState) {
	h.Broadcast(types.WSStateChange{
		Type:  "state_change",
		State: state,
	})
}

// BroadcastStatus pushes a fresh status report to all clients.
func (h *Hub) BroadcastStatus() {
	h.Broadcast(map[string]any{
		"type": "status",
		"data": h.statusFn(),
	})
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
}
