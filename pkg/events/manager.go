package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	defaultWriteTimeout  = 5 * time.Second
	broadcastQueueLength = 256
)

// Connection tracks a single WebSocket client.
type Connection struct {
	ID   string
	Conn *websocket.Conn

	// subscriptions is guarded by the manager's channelMu.
	subscriptions map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ConnectionManager owns WebSocket connections and fans bus events out to
// subscribed clients. Events flow from the bus through a single broadcast
// goroutine so slow clients never stall publishers.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	// channels maps channel name -> set of connection IDs subscribed to it.
	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	writeTimeout time.Duration

	broadcasts chan Event
	done       chan struct{}
	closeOnce  sync.Once

	logger *slog.Logger
}

// NewConnectionManager creates a manager. A writeTimeout of zero uses the
// default of five seconds.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
		broadcasts:   make(chan Event, broadcastQueueLength),
		done:         make(chan struct{}),
		logger:       slog.Default().With("component", "connection_manager"),
	}
}

// AttachBus subscribes the manager to every event on the bus and starts the
// broadcast loop. Events whose channel has no subscribers are dropped cheaply.
func (m *ConnectionManager) AttachBus(bus *Bus) Subscription {
	sub := bus.Subscribe(WildcardType, func(event Event) {
		select {
		case m.broadcasts <- event:
		case <-m.done:
		default:
			m.logger.Warn("Broadcast queue full, dropping event",
				"event_type", event.Type, "channel", event.Channel)
		}
	})
	go m.broadcastLoop()
	return sub
}

// Close stops the broadcast loop and closes every connection. The bus
// subscription returned by AttachBus should be unsubscribed first.
func (m *ConnectionManager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		conns := make([]*Connection, 0, len(m.connections))
		for _, conn := range m.connections {
			conns = append(conns, conn)
		}
		m.mu.Unlock()

		for _, conn := range conns {
			conn.cancel()
			_ = conn.Conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	})
}

func (m *ConnectionManager) broadcastLoop() {
	for {
		select {
		case event := <-m.broadcasts:
			m.Broadcast(event.Channel, event.Payload)
		case <-m.done:
			return
		}
	}
}

// HandleConnection registers the WebSocket connection and runs its read loop
// until the client disconnects or the context is cancelled.
func (m *ConnectionManager) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	connection := &Connection{
		ID:            uuid.NewString(),
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           connCtx,
		cancel:        cancel,
	}

	m.register(connection)
	defer m.unregister(connection)

	m.logger.Info("WebSocket connection established", "connection_id", connection.ID)
	if err := m.sendJSON(connection, map[string]any{
		"type":          "connection.established",
		"connection_id": connection.ID,
		"timestamp":     eventTimestamp(),
	}); err != nil {
		m.logger.Warn("Failed to send connection greeting",
			"connection_id", connection.ID, "error", err)
		return
	}

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			m.logger.Debug("WebSocket read loop ended",
				"connection_id", connection.ID, "error", err)
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("Invalid client message",
				"connection_id", connection.ID, "error", err)
			continue
		}
		m.handleClientMessage(connection, msg)
	}
}

func (m *ConnectionManager) handleClientMessage(conn *Connection, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendError(conn, "subscribe requires a channel")
			return
		}
		m.addSubscription(conn, msg.Channel)
		_ = m.sendJSON(conn, map[string]any{
			"type":      "subscription.confirmed",
			"channel":   msg.Channel,
			"timestamp": eventTimestamp(),
		})
	case "unsubscribe":
		if msg.Channel == "" {
			m.sendError(conn, "unsubscribe requires a channel")
			return
		}
		m.removeSubscription(conn, msg.Channel)
		_ = m.sendJSON(conn, map[string]any{
			"type":      "subscription.removed",
			"channel":   msg.Channel,
			"timestamp": eventTimestamp(),
		})
	case "ping":
		_ = m.sendJSON(conn, map[string]any{
			"type":      "pong",
			"timestamp": eventTimestamp(),
		})
	default:
		m.logger.Warn("Unknown client action",
			"connection_id", conn.ID, "action", msg.Action)
		m.sendError(conn, "unknown action: "+msg.Action)
	}
}

// Broadcast sends the payload to every connection subscribed to the channel.
// Connection and subscription snapshots are taken under the locks, sends
// happen outside them.
func (m *ConnectionManager) Broadcast(channel string, payload []byte) {
	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	if len(ids) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, payload); err != nil {
			m.logger.Debug("Broadcast send failed",
				"connection_id", conn.ID, "channel", channel, "error", err)
		}
	}
}

// ActiveConnections returns the number of registered connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ChannelSubscribers returns how many connections are subscribed to a channel.
func (m *ConnectionManager) ChannelSubscribers(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) register(conn *Connection) {
	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()
}

func (m *ConnectionManager) unregister(conn *Connection) {
	conn.cancel()

	m.mu.Lock()
	delete(m.connections, conn.ID)
	m.mu.Unlock()

	m.channelMu.Lock()
	for channel := range conn.subscriptions {
		if subs, ok := m.channels[channel]; ok {
			delete(subs, conn.ID)
			if len(subs) == 0 {
				delete(m.channels, channel)
			}
		}
	}
	m.channelMu.Unlock()

	m.logger.Info("WebSocket connection closed", "connection_id", conn.ID)
}

func (m *ConnectionManager) addSubscription(conn *Connection, channel string) {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()

	conn.subscriptions[channel] = true
	if m.channels[channel] == nil {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][conn.ID] = true
}

func (m *ConnectionManager) removeSubscription(conn *Connection, channel string) {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()

	delete(conn.subscriptions, channel)
	if subs, ok := m.channels[channel]; ok {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
}

func (m *ConnectionManager) sendError(conn *Connection, message string) {
	_ = m.sendJSON(conn, map[string]any{
		"type":      "error",
		"message":   message,
		"timestamp": eventTimestamp(),
	})
}

func (m *ConnectionManager) sendJSON(conn *Connection, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.sendRaw(conn, data)
}

func (m *ConnectionManager) sendRaw(conn *Connection, data []byte) error {
	ctx, cancel := context.WithTimeout(conn.ctx, m.writeTimeout)
	defer cancel()
	return conn.Conn.Write(ctx, websocket.MessageText, data)
}
