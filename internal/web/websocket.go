package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans swarm events out to WebSocket clients. A client may restrict
// itself to one swarm.
type Hub struct {
	clients   map[*websocket.Conn]string // conn -> swarm filter ("" = all)
	broadcast chan swarm.Event
	mu        sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan swarm.Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client, filter := range h.clients {
				if filter != "" && filter != ev.SwarmID {
					continue
				}
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for broadcast without blocking.
func (h *Hub) Publish(ev swarm.Event) {
	select {
	case h.broadcast <- ev:
	default:
		slog.Warn("websocket broadcast channel full, dropping event", "type", ev.Type)
	}
}

func (h *Hub) Register(conn *websocket.Conn, swarmID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = swarmID
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, r.URL.Query().Get("swarm"))
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Drain client frames until the connection goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
