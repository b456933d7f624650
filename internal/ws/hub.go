package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Client is one websocket subscription to a story's updates.
type Client struct {
	StoryID uuid.UUID
	Conn    *websocket.Conn
	send    chan []byte
	logger  *zap.Logger
}

// Hub fans client-update messages out to the websocket subscribers of each
// story. Multiple clients may watch one story.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates and starts the hub loop.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("ws_hub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.StoryID] == nil {
				h.clients[client.StoryID] = make(map[*Client]struct{})
			}
			h.clients[client.StoryID][client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("Client subscribed", zap.String("story_id", client.StoryID.String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.clients[client.StoryID]; ok {
				if _, ok := subs[client]; ok {
					delete(subs, client)
					close(client.send)
					if len(subs) == 0 {
						delete(h.clients, client.StoryID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("Client unsubscribed", zap.String("story_id", client.StoryID.String()))
		}
	}
}

// NewClient wraps a websocket connection as a story subscriber and registers
// it with the hub.
func (h *Hub) NewClient(storyID uuid.UUID, conn *websocket.Conn) *Client {
	client := &Client{
		StoryID: storyID,
		Conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		logger:  h.logger.With(zap.String("story_id", storyID.String())),
	}
	h.register <- client
	return client
}

// BroadcastToStory queues a message to every subscriber of a story and
// returns the delivered count. Clients with a full queue are skipped, not
// blocked on.
func (h *Hub) BroadcastToStory(storyID uuid.UUID, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients[storyID] {
		select {
		case client.send <- message:
			sent++
		default:
			client.logger.Warn("Send queue full, dropping update")
		}
	}
	return sent
}

// WritePump drains the send channel onto the connection with keepalive
// pings. Runs until the hub closes the channel or a write fails.
func (c *Client) WritePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Write failed, dropping client", zap.Error(err))
				go func() { h.unregister <- c }()
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go func() { h.unregister <- c }()
				return
			}
		}
	}
}

// ReadPump consumes (and discards) client frames to keep the connection's
// pong handler running, unregistering on close.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		h.unregister <- c
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(1024)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
