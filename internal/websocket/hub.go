package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/internal/metrics"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

// LatestFunc looks up the last analysis of a symbol
type LatestFunc func(symbol string) (*models.Analysis, bool)

// Hub streams analyses to websocket clients as JSON text messages
type Hub struct {
	cfg      *config.WebSocketConfig
	upgrader websocket.Upgrader
	latest   LatestFunc
	metrics  *metrics.Metrics
	logger   *logrus.Entry

	broadcast chan *models.Analysis
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	clients map[*Client]bool
}

// Client is one websocket connection and its symbol filter
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu      sync.RWMutex
	symbols map[string]bool // empty means every symbol
}

// NewHub creates a hub; latest may be nil
func NewHub(cfg *config.WebSocketConfig, latest LatestFunc, m *metrics.Metrics, logger *logrus.Logger) *Hub {
	c := *cfg
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	cfg = &c

	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		latest:    latest,
		metrics:   m,
		logger:    logger.WithField("component", "ws-hub"),
		broadcast: make(chan *models.Analysis, 256),
		done:      make(chan struct{}),
		clients:   make(map[*Client]bool),
	}
}

// Run is the hub's main loop; it returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case a := <-h.broadcast:
			h.fanout(a)
		}
	}
}

// Name implements services.Sink
func (h *Hub) Name() string {
	return "websocket"
}

// Deliver implements services.Sink by queueing a broadcast
func (h *Hub) Deliver(ctx context.Context, a *models.Analysis) error {
	select {
	case h.broadcast <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	default:
		h.logger.WithField("symbol", a.Symbol).Warn("Broadcast queue full, dropping analysis")
		return nil
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and starts the client pumps.
// ?symbols=AAPL,MSFT pre-subscribes the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection")
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, h.sendBuffer()),
		hub:     h,
		symbols: make(map[string]bool),
	}

	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	if raw := r.URL.Query().Get("symbols"); raw != "" {
		client.subscribe(strings.Split(raw, ","))
	}

	h.logger.WithField("client", client.id).Debug("Client connected")
}

func (h *Hub) fanout(a *models.Analysis) {
	data, err := json.Marshal(models.WebSocketMessage{Type: models.MessageAnalysis, Data: a})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal analysis")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(a.Symbol) {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.WithField("client", client.id).Debug("Client send buffer full")
		}
	}
}

func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return false
	default:
	}
	h.clients[client] = true
	h.mu.Unlock()

	h.setGauge()
	return true
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	h.setGauge()
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	h.setGauge()
}

func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(h.ClientCount()))
	}
}

func (h *Hub) sendBuffer() int {
	if h.cfg.SendBuffer > 0 {
		return h.cfg.SendBuffer
	}
	return 64
}

func (c *Client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[strings.ToUpper(symbol)]
}

func (c *Client) subscribe(symbols []string) []string {
	added := make([]string, 0, len(symbols))

	c.mu.Lock()
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		c.symbols[s] = true
		added = append(added, s)
	}
	c.mu.Unlock()

	c.reply(models.MessageSubscribed, added)

	if c.hub.latest != nil {
		for _, s := range added {
			if a, ok := c.hub.latest(s); ok {
				c.reply(models.MessageAnalysis, a)
			}
		}
	}

	return added
}

func (c *Client) unsubscribe(symbols []string) {
	c.mu.Lock()
	if len(symbols) == 0 {
		c.symbols = make(map[string]bool)
	}
	for _, s := range symbols {
		delete(c.symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	c.mu.Unlock()

	c.reply(models.MessageUnsubscribed, symbols)
}

// reply queues a message for this client only, dropping it when the buffer is full
func (c *Client) reply(msgType string, payload interface{}) {
	data, err := json.Marshal(models.WebSocketMessage{Type: msgType, Data: payload})
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}

	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg models.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(models.MessageError, "invalid JSON message")
		return
	}

	switch msg.Type {
	case models.MessageSubscribe:
		c.subscribe(msg.Symbols)
	case models.MessageUnsubscribe:
		c.unsubscribe(msg.Symbols)
	case models.MessagePing:
		c.reply(models.MessagePong, nil)
	default:
		c.reply(models.MessageError, "unknown message type: "+msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
					c.hub.logger.WithError(err).Debug("Write error")
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).Debug("WebSocket closed")
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}
