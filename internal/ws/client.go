package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relay/internal/logger"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
	sendBuffer     = 256
)

// controlMessage is sent by clients to change their channel subscriptions.
type controlMessage struct {
	Action   string   `json:"action"` // "subscribe" | "unsubscribe"
	Channel  string   `json:"channel"`
	Channels []string `json:"channels"`
}

func (m controlMessage) targets() []string {
	if m.Channel == "" {
		return m.Channels
	}
	return append([]string{m.Channel}, m.Channels...)
}

// Client is a single WebSocket connection.
type Client struct {
	ID       string
	conn     *websocket.Conn
	channels map[string]bool
	subMu    sync.RWMutex
	send     chan []byte
	hub      *Hub
	logger   logger.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, log logger.Logger, channels ...string) *Client {
	c := &Client{
		ID:       uuid.NewString(),
		conn:     conn,
		channels: make(map[string]bool),
		send:     make(chan []byte, sendBuffer),
		hub:      hub,
	}
	c.logger = log.With("client_id", c.ID)
	c.Subscribe(channels...)
	return c
}

func (c *Client) Subscribe(channels ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range channels {
		if ch != "" {
			c.channels[ch] = true
		}
	}
}

func (c *Client) Unsubscribe(channels ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
}

// IsSubscribed reports whether any of the client's patterns covers channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.channels[channel] {
		return true
	}
	for pattern := range c.channels {
		if channelMatches(pattern, channel) {
			return true
		}
	}
	return false
}

// ReadPump applies control messages from the peer until the connection
// closes. It runs in its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warnw("WebSocket read failed", "error", err)
			}
			return
		}

		var cm controlMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			c.logger.Debugw("Invalid control message", "error", err)
			continue
		}

		switch cm.Action {
		case "subscribe":
			c.Subscribe(cm.targets()...)
		case "unsubscribe":
			c.Unsubscribe(cm.targets()...)
		default:
			c.logger.Debugw("Unknown control action", "action", cm.Action)
		}
	}
}

// WritePump writes queued frames and keepalive pings to the peer. It runs in
// its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
