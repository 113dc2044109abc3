package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
)

// Envelope is the frame every subscriber receives.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Wildcard subscribes a client to every channel.
const Wildcard = "*"

// channelMatches reports whether a subscription pattern covers channel.
// Patterns are an exact name, "*", or a prefix ending in ":*".
func channelMatches(pattern, channel string) bool {
	switch {
	case pattern == Wildcard:
		return true
	case strings.HasSuffix(pattern, ":*"):
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == channel
	}
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub fans broker messages out to WebSocket clients subscribed to their
// channel. It is safe for concurrent use.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	done       chan struct{}
	mu         sync.RWMutex
	logger     logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcastMsg, 1024),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run is the hub's event loop. When ctx ends every client is closed and Run
// returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("WebSocket client registered", "client_id", client.ID, "clients", count)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
	}
	h.mu.Unlock()
	h.logger.Debugw("WebSocket client unregistered", "client_id", client.ID)
}

func (h *Hub) fanOut(msg broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.IsSubscribed(msg.channel) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			// Slow consumer: drop the frame rather than block every other client.
			h.logger.Debugw("Dropping frame for slow WebSocket client",
				"client_id", client.ID,
				"channel", msg.channel,
			)
		}
	}
}

// Broadcast queues a frame for every client subscribed to channel. It never
// blocks; a full hub queue is reported as ErrQueueFull.
func (h *Hub) Broadcast(channel, event string, data json.RawMessage) error {
	frame, err := json.Marshal(Envelope{Channel: channel, Event: event, Data: data})
	if err != nil {
		return apperrors.ErrHandler.WithCause(err)
	}

	select {
	case <-h.done:
		return apperrors.ErrHandler.WithDetail("message", "websocket hub stopped")
	default:
	}

	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: frame}:
		return nil
	default:
		return apperrors.ErrQueueFull.WithDetail("channel", channel)
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
