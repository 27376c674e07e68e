package stub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/internal/realtime"
	"localspot-sync/pkg/logger"
)

// FeedHub fans row-change events out to websocket subscribers. Each client
// sends one subscribe frame naming its filter and then receives every
// matching event as a JSON frame.
type FeedHub struct {
	mu      sync.RWMutex
	clients map[*feedClient]realtime.Filter

	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan domain.ChangeEvent
}

type feedClient struct {
	hub    *FeedHub
	conn   *websocket.Conn
	send   chan []byte
	filter realtime.Filter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev stub only
	},
}

// NewFeedHub creates and starts a feed hub
func NewFeedHub() *FeedHub {
	hub := &FeedHub{
		clients:    make(map[*feedClient]realtime.Filter),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan domain.ChangeEvent, 256),
	}

	go hub.run()

	return hub
}

// Publish queues one change event for fan-out
func (h *FeedHub) Publish(ev domain.ChangeEvent) {
	h.broadcast <- ev
}

func (h *FeedHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = client.filter
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			payload, _ := json.Marshal(ev)
			h.mu.Lock()
			for client, filter := range h.clients {
				if !filter.Matches(ev) {
					continue
				}
				select {
				case client.send <- payload:
				default:
					// Slow consumer; drop it rather than block the fan-out.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS upgrades the request and registers the client once its subscribe
// frame arrives
func (h *FeedHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("feed upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	var frame struct {
		Table  string `json:"table"`
		Column string `json:"column"`
		Value  string `json:"value"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		logger.Warn("invalid subscribe frame", zap.Error(err))
		conn.Close()
		return
	}

	client := &feedClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		filter: realtime.Filter{Table: frame.Table, Column: frame.Column, Value: frame.Value},
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *feedClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Subscribers only send the one subscribe frame; this loop just
	// notices the close.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
