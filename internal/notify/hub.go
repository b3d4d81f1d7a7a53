package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echocore/internal/events"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Frame is what WebSocket clients receive.
type Frame struct {
	Kind             Kind              `json:"kind"`
	ChatID           uuid.UUID         `json:"chat_id"`
	UserID           uuid.UUID         `json:"user_id"`
	LatestEventIndex events.EventIndex `json:"latest_event_index"`
	At               time.Time         `json:"at"`
}

type client struct {
	chatID uuid.UUID
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan Frame
}

// Hub pushes activity to WebSocket clients watching a chat. It is a
// Handler so it can sit behind a Bus or a RedisSubscriber.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("hub"),
	}
}

// Handle forwards n to every client of n.ChatID. Slow clients miss
// frames rather than stall the hub.
func (h *Hub) Handle(_ context.Context, n Notification) error {
	frame := Frame{
		Kind:             n.Kind,
		ChatID:           n.ChatID,
		UserID:           n.UserID,
		LatestEventIndex: n.LatestEventIndex,
		At:               n.At,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[n.ChatID] {
		select {
		case c.send <- frame:
		default:
		}
	}
	return nil
}

// Clients returns the number of clients watching chatID.
func (h *Hub) Clients(chatID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[chatID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.chatID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.chatID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.chatID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.chatID)
	}
}

// Serve upgrades the request and streams frames for chatID until the
// client goes away. Authorization happens before Serve is called.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, chatID, userID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{chatID: chatID, userID: userID, conn: conn, send: make(chan Frame, sendBuffer)}
	h.register(c)
	h.logger.Debug("client connected", zap.Stringer("chat_id", chatID), zap.Stringer("user_id", userID))

	go h.writePump(c)
	h.readPump(c)
	return nil
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
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
