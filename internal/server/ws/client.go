package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// client is one websocket connection. send is closed exactly once, by close.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	market string
	remote string

	send      chan []byte
	closeOnce sync.Once

	mu   sync.RWMutex
	subs map[string]bool
}

// control is a client request: {"action":"subscribe","channels":["bets"]}.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

func newClient(h *Hub, conn *websocket.Conn, channels []string, market, remote string) *client {
	c := &client{
		hub:    h,
		conn:   conn,
		market: market,
		remote: remote,
		send:   make(chan []byte, sendBuffer),
		subs:   make(map[string]bool),
	}
	c.apply(control{Action: "subscribe", Channels: channels})
	return c
}

// wants reports whether the client follows channel. A trailing "*" matches
// by prefix.
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) channels() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

// enqueue reports false when the buffer is full. Callers hold the hub lock,
// so send is never closed underneath.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readLoop applies control messages and acknowledges them with the updated
// channel list.
func (c *client) readLoop() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action == "" {
			continue
		}
		c.apply(msg)
		ack, _ := json.Marshal(domain.Event{Type: "subscribed", Data: map[string]any{"channels": c.channels()}})
		c.hub.mu.RLock()
		c.enqueue(ack)
		c.hub.mu.RUnlock()
	}
}

// writeLoop drains send into text frames and keeps the connection alive with
// pings.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
