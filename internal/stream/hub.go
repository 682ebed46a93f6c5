// Package stream pushes device auth state to clients over WebSocket.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Message types.
const (
	MessageTypeAuthState  = "auth_state"
	MessageTypeNavigation = "navigation"
	MessageTypeNavigate   = "navigate"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeError      = "error"
)

// Message is one WebSocket frame.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected clients by device.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	disconnect chan string

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		disconnect: make(chan string, 64),
		logger:     logger.With("component", "stream_hub"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop. It returns when ctx ends or Stop is called,
// after closing every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("auth stream hub started")
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.deviceID] == nil {
				h.clients[client.deviceID] = make(map[*Client]bool)
			}
			h.clients[client.deviceID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id, "device_id", client.deviceID)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", "client_id", client.id, "device_id", client.deviceID)

		case deviceID := <-h.disconnect:
			h.mu.Lock()
			clients := h.clients[deviceID]
			delete(h.clients, deviceID)
			h.mu.Unlock()
			for c := range clients {
				c.close()
			}
			if len(clients) > 0 {
				h.logger.Info("disconnected device clients", "device_id", deviceID, "count", len(clients))
			}
		}
	}
}

// Stop stops the hub.
func (h *Hub) Stop() {
	h.cancel()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		client.close()
	}
}

// Disconnect closes every client of a device.
func (h *Hub) Disconnect(deviceID string) {
	select {
	case h.disconnect <- deviceID:
	default:
		h.logger.Warn("disconnect queue full", "device_id", deviceID)
	}
}

// Connections returns the number of clients connected for a device.
func (h *Hub) Connections(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[deviceID])
}

// TotalConnections returns the number of connected clients.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if clients, ok := h.clients[client.deviceID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.deviceID)
		}
	}
	h.mu.Unlock()
	client.close()
}

func (h *Hub) closeAll() {
	h.cancel()
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]bool)
	h.mu.Unlock()
	for _, clients := range all {
		for c := range clients {
			c.close()
		}
	}
	h.logger.Info("auth stream hub stopped")
}
