package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/config"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
	pkglog "github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
)

// DisconnectHandler is called when a client disconnects.
type DisconnectHandler func(*Client)

// Client represents a connected WebSocket client.
type Client struct {
	ID                string
	Hub               *Hub
	Conn              *websocket.Conn
	Send              chan []byte
	Session           *domain.Session
	disconnectHandler DisconnectHandler
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Hub manages all WebSocket connections and their transport rooms.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client // roomID -> clientID -> client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run processes unregistrations until ctx is cancelled, then closes every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	l := pkglog.L()
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for roomID, roomClients := range h.rooms {
					delete(roomClients, client.ID)
					if len(roomClients) == 0 {
						delete(h.rooms, roomID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			l.Info().Str(pkglog.FieldHandle, client.ID).Msg("client unregistered")
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for id, client := range h.clients {
			close(client.Send)
			delete(h.clients, id)
		}
		h.rooms = make(map[string]map[string]*Client)
		h.mu.Unlock()
	})
}

// Register adds a client to the hub. It takes effect before it returns so
// the client can be addressed as soon as its pumps start.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := pkglog.L()
	l.Info().Str(pkglog.FieldHandle, client.ID).Msg("client registered")
}

// Unregister removes a client from the hub and all of its rooms.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JoinRoom adds a client to a room. Unknown clients are ignored.
func (h *Hub) JoinRoom(clientID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][clientID] = client
	l := pkglog.L()
	l.Debug().Str(pkglog.FieldHandle, clientID).Str(pkglog.FieldSessionID, roomID).Msg("client joined room")
}

// LeaveRoom removes a client from a room.
func (h *Hub) LeaveRoom(clientID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, clientID)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	l := pkglog.L()
	l.Debug().Str(pkglog.FieldHandle, clientID).Str(pkglog.FieldSessionID, roomID).Msg("client left room")
}

// BroadcastToRoom sends a message to all clients in a room except exclude.
// Delivery is queued synchronously so per-client ordering matches SendToClient.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, client := range h.rooms[roomID] {
		if clientID == exclude {
			continue
		}
		h.enqueue(client, data)
	}
	return nil
}

// SendToClient sends a message to a specific client. Unknown clients are a no-op.
func (h *Hub) SendToClient(clientID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[clientID]; ok {
		h.enqueue(client, data)
	}
	return nil
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		// Client's send buffer is full
		go h.removeClient(client)
	}
}

func (h *Hub) removeClient(client *Client) {
	l := pkglog.L()
	l.Warn().Str(pkglog.FieldHandle, client.ID).Msg("send buffer full, dropping client")
	h.Unregister(client)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
