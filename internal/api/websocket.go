package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harvestgrid/fieldgate-core/internal/gateway"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/config"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/logging"
)

// WebSocket event and request types.
const (
	WSTypeInit         = "INIT"
	WSTypeStatusUpdate = "STATUS_UPDATE"
	WSTypeMQTTMessage  = "MQTT_MESSAGE"
	WSTypeRefresh      = "REFRESH"
	WSTypeCommand      = "COMMAND"

	// wsSendBufferSize is the per-client outbound message buffer size,
	// used when the config leaves it unset.
	wsSendBufferSize = 256

	// defaultWSPath is where the push channel is mounted under the API
	// prefix when the config leaves it unset.
	defaultWSPath = "/ws"
)

// snapshotEvent carries the full gateway state to one client.
type snapshotEvent struct {
	Type string `json:"type"`
	Snapshot
}

// messageEvent is the per-message broadcast sent to every client.
type messageEvent struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// clientRequest is an inbound frame from a realtime client.
type clientRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// commandData is the payload of a COMMAND request. Command passes
// through to the broker untouched; the hub validates shape only.
type commandData struct {
	DeviceID string          `json:"deviceId"`
	Command  json.RawMessage `json:"command"`
}

// Snapshotter produces the full state snapshot for INIT and
// STATUS_UPDATE events. Satisfied by *Server.
type Snapshotter interface {
	Snapshot() Snapshot
}

// CommandPublisher forwards client commands to the broker.
// Satisfied by *gateway.Gateway.
type CommandPublisher interface {
	PublishCommand(deviceID string, payload []byte) error
}

// Hub manages WebSocket connections and fans broker messages out to
// every connected client. A client that cannot accept a write is
// disconnected rather than awaited; delivery to the remaining clients
// is never blocked by one slow consumer.
type Hub struct {
	cfg       config.WebSocketConfig
	logger    *logging.Logger
	snapshots Snapshotter
	publisher CommandPublisher
	clients   map[*WSClient]struct{}
	mu        sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshots Snapshotter, publisher CommandPublisher) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		snapshots: snapshots,
		publisher: publisher,
		clients:   make(map[*WSClient]struct{}),
	}
}

// Run consumes gateway events and broadcasts each one until the context
// is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context, events <-chan gateway.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-events:
			h.BroadcastMessage(event.Topic, event.Message)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// BroadcastMessage sends an MQTT_MESSAGE event to all connected
// clients. Clients whose buffers are full are disconnected.
func (h *Hub) BroadcastMessage(topic, message string) {
	data, err := json.Marshal(messageEvent{
		Type:    WSTypeMQTTMessage,
		Topic:   topic,
		Message: message,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.trySend(data) {
			h.logger.Warn("client send buffer full, disconnecting")
			h.Unregister(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// sendSnapshot marshals the current full state and queues it for one
// client. kind is INIT or STATUS_UPDATE.
func (h *Hub) sendSnapshot(client *WSClient, kind string) {
	data, err := json.Marshal(snapshotEvent{
		Type:     kind,
		Snapshot: h.snapshots.Snapshot(),
	})
	if err != nil {
		h.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	if !client.trySend(data) {
		h.Unregister(client)
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	buffer := s.wsCfg.SendBuffer
	if buffer <= 0 {
		buffer = wsSendBufferSize
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, buffer),
	}

	// Queue the full state before the client joins the broadcast set so
	// the snapshot is always the first frame it receives. The pumps are
	// not running yet, so nothing drains the queue out of order.
	s.hub.sendSnapshot(client, WSTypeInit)

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads requests from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleRequest(message)
	}
}

// writePump writes queued messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest processes an incoming client frame. Malformed frames
// are logged and dropped; they never disconnect the client or disturb
// other clients.
func (c *WSClient) handleRequest(data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.hub.logger.Warn("invalid websocket frame", "error", err)
		return
	}

	switch req.Type {
	case WSTypeRefresh:
		// Fresh snapshot to the requesting client only.
		c.hub.sendSnapshot(c, WSTypeStatusUpdate)
	case WSTypeCommand:
		c.handleCommand(req.Data)
	default:
		c.hub.logger.Warn("unknown websocket request type", "type", req.Type)
	}
}

// handleCommand validates the command shape and forwards it to the
// broker publish path. Command semantics are not inspected here.
func (c *WSClient) handleCommand(data json.RawMessage) {
	var cmd commandData
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.hub.logger.Warn("invalid command payload", "error", err)
		return
	}
	if cmd.DeviceID == "" {
		c.hub.logger.Warn("command missing device id")
		return
	}

	if err := c.hub.publisher.PublishCommand(cmd.DeviceID, cmd.Command); err != nil {
		c.hub.logger.Warn("command publish failed", "device_id", cmd.DeviceID, "error", err)
	}
}

// trySend attempts to queue data for the client without blocking.
// It reports false when the client's buffer is full; a send on a closed
// channel (client disconnected during broadcast) is absorbed.
func (c *WSClient) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
