package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lightcurvedb/internal/observability"
)

const (
	feedChannelBuffer   = 16
	feedBroadcastBuffer = 256
	feedWriteDeadline   = 10 * time.Second
	feedReadDeadline    = 60 * time.Second
	feedPingInterval    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client.
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// feedClient serializes writes to one connection. The hub's broadcast
// loop and the per-connection ping loop both write, and the websocket
// library allows only one concurrent writer.
type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *feedClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(feedWriteDeadline))
	return c.conn.WriteMessage(messageType, data)
}

// Hub manages WebSocket connections for the live measurement feed.
// Every successfully ingested measurement is broadcast to all
// connected clients as JSON.
type Hub struct {
	clients map[*feedClient]bool

	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan []byte

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a feed hub. Run must be started for it to deliver.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*feedClient]bool),
		register:   make(chan *feedClient, feedChannelBuffer),
		unregister: make(chan *feedClient, feedChannelBuffer),
		broadcast:  make(chan []byte, feedBroadcastBuffer),
		log:        log,
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
			}
			h.clients = make(map[*feedClient]bool)
			h.mu.Unlock()
			observability.SetFeedClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetFeedClients(count)
			h.log.Debug("feed client connected", zap.Int("clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetFeedClients(count)
			h.log.Debug("feed client disconnected", zap.Int("clients", count))

		case message := <-h.broadcast:
			// Collect failed connections to unregister after releasing
			// the lock.
			h.mu.RLock()
			var failed []*feedClient
			for client := range h.clients {
				if err := client.write(websocket.TextMessage, message); err != nil {
					h.log.Debug("feed write failed", zap.Error(err))
					failed = append(failed, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range failed {
				h.unregister <- client
			}
		}
	}
}

// Broadcast queues a message for all connected clients. When the queue
// is full the message is dropped rather than blocking the ingest path.
func (h *Hub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		observability.RecordFeedBroadcast()
	default:
		observability.RecordFeedDroppedFrame()
		h.log.Warn("feed broadcast queue full, dropping frame")
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleFeed upgrades the request and keeps the connection registered
// until the client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "feed is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("feed upgrade failed", zap.Error(err))
		return
	}

	client := &feedClient{conn: conn}
	s.hub.register <- client

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		s.hub.unregister <- client
	}()

	// Ping keeps intermediaries from timing the connection out.
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(feedReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadDeadline))
		return nil
	})

	// The read loop only services control frames and close detection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("feed read failed", zap.Error(err))
			}
			return
		}
	}
}
