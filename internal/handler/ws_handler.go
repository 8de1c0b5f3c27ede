package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/config"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/hub"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/service"
	pkglog "github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
)

const defaultSendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub        *hub.Hub
	service    service.ClassroomService
	sendBuffer int
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.ClassroomService, cfg config.WebSocketConfig) *WSHandler {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}
	return &WSHandler{
		hub:        h,
		service:    svc,
		sendBuffer: buf,
	}
}

// HandleWebSocket upgrades the request and starts the client pumps.
// A token may be passed as ?token= to authenticate up front.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	client := &hub.Client{
		ID:      clientID,
		Hub:     h.hub,
		Conn:    conn,
		Send:    make(chan []byte, h.sendBuffer),
		Session: domain.NewSession(clientID),
	}

	// r.Context() ends when this handler returns; the connection keeps its own.
	ctx := pkglog.WithHandle(context.Background(), r.Context(), clientID)

	client.SetDisconnectHandler(func(c *hub.Client) {
		h.service.HandleDisconnect(ctx, c)
	})

	h.hub.Register(client)

	if token := r.URL.Query().Get("token"); token != "" {
		if err := h.service.HandleAuth(ctx, client, token); err != nil {
			l := pkglog.Ctx(ctx)
			l.Warn().Err(err).Msg("query token rejected")
		}
	}

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleMessage(ctx, c, message)
	})
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	in, err := domain.Decode(message)
	if err != nil {
		// malformed and unknown intents are dropped without a reply
		l := pkglog.Ctx(ctx)
		l.Debug().Err(err).Msg("dropping inbound frame")
		return
	}

	l := pkglog.Ctx(ctx)
	l.Debug().Str(pkglog.FieldIntent, in.Kind()).Msg("intent received")

	h.service.Dispatch(ctx, client, in)
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}
