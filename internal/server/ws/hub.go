// Package ws streams market, bet and prediction events to websocket
// clients. Clients pick channels on connect (?channels=bets,markets) or later
// with {"action":"subscribe","channels":[...]}, and may follow a single
// market with ?market=<id>.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Channels are the bus channels the hub forwards.
var Channels = []string{
	domain.ChannelMarkets,
	domain.ChannelBets,
	domain.ChannelPredictions,
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode           string
	AllowedOrigins []string
	StartedAt      time.Time
}

// Hub fans bus events out to connected clients.
type Hub struct {
	bus       domain.SignalBus
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub bridging bus to websocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
	}
}

// originChecker allows requests without Origin, and every origin when none
// are configured.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return o == "*" || strings.EqualFold(o, origin)
		})
	}
}

// Run subscribes to every channel and forwards events until ctx is done, then
// disconnects all clients. A failed subscription is returned immediately.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("ws: subscribe %s: %w", ch, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(ctx, ch, msgs)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			h.fanout(channel, data)
		}
	}
}

// fanout delivers one event to every client subscribed to channel. A client
// whose buffer is full misses the event; it can catch up through /events.
func (h *Hub) fanout(channel string, data []byte) {
	var marketID string
	marketKnown := false

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		if c.market != "" {
			if !marketKnown {
				marketID, marketKnown = eventMarketID(channel, data), true
			}
			if marketID != c.market {
				continue
			}
		}
		if !c.enqueue(data) {
			h.logger.Warn("ws: client buffer full, event dropped",
				slog.String("channel", channel),
				slog.String("remote", c.remote),
			)
		}
	}
}

// eventMarketID extracts the market an event belongs to: the market itself on
// the markets channel, its marketId elsewhere.
func eventMarketID(channel string, data []byte) string {
	var ev struct {
		Data struct {
			ID       string `json:"id"`
			MarketID string `json:"marketId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ""
	}
	if channel == domain.ChannelMarkets {
		return ev.Data.ID
	}
	return ev.Data.MarketID
}

// HandleWS upgrades the request and registers the client.
// GET /ws?channels=a,b&market=<id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	q := r.URL.Query()
	channels := Channels
	if v := q.Get("channels"); v != "" {
		channels = strings.Split(v, ",")
	}
	c := newClient(h, conn, channels, strings.TrimSpace(q.Get("market")), r.RemoteAddr)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	c.enqueue(h.hello(c))
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws: client connected",
		slog.String("remote", c.remote),
		slog.String("market", c.market),
		slog.Int("total_clients", total),
	)

	go c.writeLoop()
	go c.readLoop()
}

// drop unregisters c after its connection ends.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("ws: client disconnected", slog.String("remote", c.remote), slog.Int("total_clients", total))
	}
}

// hello lets clients mark the connection healthy before any event flows.
func (h *Hub) hello(c *client) []byte {
	msg, _ := json.Marshal(domain.Event{
		Type: "hello",
		Data: map[string]any{
			"mode":           h.mode,
			"uptime_seconds": max(0, int64(time.Since(h.startedAt).Seconds())),
			"channels":       c.channels(),
			"market":         c.market,
		},
	})
	return msg
}
