package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"price-ticker/internal/alerting"
	"price-ticker/internal/market"
	"price-ticker/internal/observability"
	"price-ticker/internal/render"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingEvery    = 45 * time.Second
)

// Message kinds pushed over the live stream.
const (
	MessageTicker       = "ticker"
	MessageNotification = "notification"
)

type message struct {
	Type         string                 `json:"type"`
	Slots        *render.Slots          `json:"slots,omitempty"`
	Notification *alerting.Notification `json:"notification,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	out  chan []byte
}

// Hub fans ticker updates and notifications out to websocket clients. It is
// both a render.Renderer and an alerting.Notifier.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	last    []byte
	closed  bool
}

var (
	_ render.Renderer   = (*Hub)(nil)
	_ alerting.Notifier = (*Hub)(nil)
)

// NewHub constructs an empty hub. allowOrigin of "" or "*" accepts any origin.
func NewHub(allowOrigin string, metrics *observability.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == "" || allowOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowOrigin
			},
		},
		metrics: metrics,
		logger:  logger.With().Str("component", "ws_hub").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// Render broadcasts the slots for the reading and remembers them for clients
// that connect later.
func (h *Hub) Render(point *market.PricePoint, flags render.Flags) {
	slots := render.BuildSlots(point, flags)
	data, err := json.Marshal(message{Type: MessageTicker, Slots: &slots})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode ticker message")
		return
	}
	h.mu.Lock()
	h.last = data
	h.mu.Unlock()
	h.broadcast(data)
}

// Notify broadcasts a notification.
func (h *Hub) Notify(_ context.Context, note alerting.Notification) error {
	data, err := json.Marshal(message{Type: MessageNotification, Notification: &note})
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		_ = c.conn.Close()
	}
	h.metrics.SetWSClients(0)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- data:
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("client too slow, dropping message")
		}
	}
}

// ServeWS upgrades the request and streams messages until the client leaves.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := &wsClient{conn: conn, out: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	h.clients[client] = struct{}{}
	if h.last != nil {
		client.out <- h.last
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSClients(count)
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("client connected")

	done := make(chan struct{})
	go h.writeLoop(client, done)
	h.readLoop(client)
	close(done)
	h.remove(client)
	return nil
}

func (h *Hub) writeLoop(c *wsClient, done <-chan struct{}) {
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop discards client input and returns when the connection drops.
func (h *Hub) readLoop(c *wsClient) {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	_ = c.conn.Close()
	h.metrics.SetWSClients(count)
	h.logger.Debug().Int("clients", count).Msg("client disconnected")
}
