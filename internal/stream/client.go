package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/publicsuffix"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/nav"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBuffer = 16
)

// StateSource is the device state a client streams.
type StateSource interface {
	DeviceID() string
	Watch(ctx context.Context) <-chan domainauth.State
	Navigate(location nav.Screen) nav.Decision
	Location() nav.Screen
	Touch()
}

// AuthStateData is the payload of an auth_state message.
type AuthStateData struct {
	State    authstate.View `json:"state"`
	Location nav.Screen     `json:"location"`
	Decision nav.Decision   `json:"decision"`
}

// ClientMessage is a message from the client.
type ClientMessage struct {
	Type     string `json:"type"`
	Location string `json:"location,omitempty"`
}

// Client is one WebSocket connection of a device.
type Client struct {
	id       string
	deviceID string
	hub      *Hub
	conn     *websocket.Conn
	source   StateSource
	logger   *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	cancel context.CancelFunc
}

// NewClient creates a new Client.
func NewClient(hub *Hub, conn *websocket.Conn, source StateSource, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		deviceID: source.DeviceID(),
		hub:      hub,
		conn:     conn,
		source:   source,
		logger:   logger.With("client_id", id, "device_id", source.DeviceID()),
		send:     make(chan []byte, sendBuffer),
	}
}

// Upgrader returns a websocket upgrader accepting native clients, which send no
// Origin, and browsers from allowedOrigins. An entry without a scheme is a
// registrable domain and admits every origin under it.
func Upgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, allowedOrigins)
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return false
	}
	return slices.Contains(allowed, site)
}

// ServeWs upgrades the request and streams source to the connection until
// either side closes it.
func ServeWs(
	hub *Hub,
	upgrader *websocket.Upgrader,
	source StateSource,
	logger *slog.Logger,
	w http.ResponseWriter,
	r *http.Request,
) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, source, logger)
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client.cancel = cancel
	if !hub.Register(client) {
		cancel()
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
	go client.watchPump(ctx)
	client.logger.Debug("new websocket connection")
}

// watchPump forwards every published state with the guard decision for the
// device's current location.
func (c *Client) watchPump(ctx context.Context) {
	for s := range c.source.Watch(ctx) {
		d := c.source.Navigate(c.source.Location())
		c.enqueue(MessageTypeAuthState, AuthStateData{
			State:    authstate.ViewOf(s),
			Location: c.source.Location(),
			Decision: d,
		})
	}
	// The manager stopped; end the connection.
	c.hub.Unregister(c)
}

// readPump pumps messages from the WebSocket connection to the client handler.
func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		// An open stream keeps the device manager from idle eviction.
		c.source.Touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.enqueue(MessageTypeError, map[string]string{"error": "invalid message format"})
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	c.source.Touch()
	switch msg.Type {
	case MessageTypePing:
		c.enqueue(MessageTypePong, nil)
	case MessageTypeNavigate:
		screen, ok := nav.ParseScreen(msg.Location)
		if !ok {
			c.enqueue(MessageTypeError, map[string]string{"error": "not_found", "location": msg.Location})
			return
		}
		c.enqueue(MessageTypeNavigation, c.source.Navigate(screen))
	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// writePump pumps messages from the client to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a message. A client that cannot keep up is disconnected rather
// than sent a stale view.
func (c *Client) enqueue(typ string, data any) {
	payload, err := json.Marshal(Message{
		ID:        uuid.New().String(),
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client buffer full, closing")
		c.closeLocked()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.cancel != nil {
		c.cancel()
	}
}
