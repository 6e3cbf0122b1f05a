package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"riskcrash/internal/logger"
)

const (
	BROADCAST_BUFFER = 256
	WRITE_TIMEOUT    = 10 * time.Second
)

type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub pushes round events to every connected websocket client. It implements
// Notifier so the Manager can publish to it directly.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, BROADCAST_BUFFER),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logger.Debug("WS client connected", "user", client.userID, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				logger.Debug("WS client disconnected", "user", client.userID, "total", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			payload, err := json.Marshal(message)
			if err != nil {
				logger.Error("WS marshal failed", "err", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				go client.send(payload)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast queues a message for every client and drops it when the queue
// is full.
func (h *Hub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		logger.Warn("WS broadcast queue full, dropping message")
	}
}

// Publish sends a round event as {"type": ..., "data": ...}.
func (h *Hub) Publish(e Event) {
	h.Broadcast(WSMessage{Type: e.Type, Data: e})
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(message interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	switch v := message.(type) {
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			logger.Error("WS send marshal failed", "err", err)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debug("WS write failed", "user", c.userID, "err", err)
	}
}

// Send writes one message to this client only.
func (c *Client) Send(message interface{}) {
	c.send(message)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		conn:   conn,
		userID: userID,
	}
	select {
	case h.register <- client:
	case <-h.stop:
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// SendInitialState gives a freshly connected client the current round.
func (c *Client) SendInitialState(view *RoundView) {
	if view != nil {
		c.send(WSMessage{Type: "initial_state", Data: view})
	}
}
