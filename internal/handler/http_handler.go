package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/audit"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/catalog"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/room"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/jwt"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/middleware"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/response"
)

// RoomLister exposes the live room registry.
type RoomLister interface {
	Rooms() []room.Summary
}

// ConnectionCounter reports how many websocket clients are connected.
type ConnectionCounter interface {
	ClientCount() int
}

// LiveSessionView is a catalog session merged with its live room.
type LiveSessionView struct {
	catalog.LiveSession
	BroadcasterPresent bool `json:"broadcaster_present"`
	ViewerCount        int  `json:"viewer_count"`
}

// Handler handles HTTP requests for the classroom service.
type Handler struct {
	catalog        catalog.Service
	rooms          RoomLister
	connections    ConnectionCounter
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(catalogService catalog.Service, rooms RoomLister, connections ConnectionCounter, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		catalog:        catalogService,
		rooms:          rooms,
		connections:    connections,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)

		sessions := api.Group("/live-sessions")
		{
			// Public routes
			sessions.GET("", h.ListLiveSessions)

			// Protected routes; registered before /:id so "mine" is not an id
			teacher := sessions.Group("", h.authMiddleware.RequireAuth(), h.authMiddleware.RequireRole(jwt.RoleTeacher, jwt.RoleAdmin))
			teacher.GET("/mine", h.MyLiveSessions)
			teacher.POST("", h.StartLiveSession)
			teacher.POST("/:id/end", h.EndLiveSession)

			sessions.GET("/:id", h.GetLiveSession)
		}
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{
		"status":      "ok",
		"rooms":       len(h.rooms.Rooms()),
		"connections": h.connections.ClientCount(),
	})
}

// ListRooms returns the live rooms currently held in memory.
func (h *Handler) ListRooms(c *gin.Context) {
	response.Success(c, h.rooms.Rooms())
}

// ListLiveSessions lists active catalog sessions with live presence.
func (h *Handler) ListLiveSessions(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	sessions, err := h.catalog.ListActive(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list live sessions")
		response.InternalError(c, "failed to list live sessions")
		return
	}

	response.Success(c, h.merge(sessions))
}

// GetLiveSession retrieves a live session by ID.
func (h *Handler) GetLiveSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	id := c.Param("id")
	s, err := h.catalog.Get(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrSessionNotFound) {
			response.NotFound(c, "live session not found")
			return
		}
		l.Error().Err(err).Str(log.FieldSessionID, id).Msg("failed to get live session")
		response.InternalError(c, "failed to get live session")
		return
	}

	response.Success(c, h.merge([]catalog.LiveSession{*s})[0])
}

// StartLiveSession starts a new live session for the calling teacher.
func (h *Handler) StartLiveSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req catalog.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind start live session request")
		response.BadRequest(c, err.Error())
		return
	}

	s, err := h.catalog.Start(ctx, userID, middleware.GetUsername(c), &req)
	if err != nil {
		if errors.Is(err, catalog.ErrActiveSessionExists) {
			response.Conflict(c, "you already have an active live session")
			return
		}
		l.Error().Err(err).Msg("failed to start live session")
		response.InternalError(c, "failed to start live session")
		return
	}

	audit.Log(ctx, audit.ActionStartSession, audit.Entry{UserID: userID, SessionID: s.ID}, "live session started")
	response.Created(c, s)
}

// EndLiveSession ends a live session owned by the caller.
func (h *Handler) EndLiveSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	id := c.Param("id")
	err := h.catalog.End(ctx, userID, id)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrSessionNotFound):
			response.NotFound(c, "live session not found")
		case errors.Is(err, catalog.ErrNotSessionOwner):
			response.Forbidden(c, "you are not the owner of this live session")
		case errors.Is(err, catalog.ErrSessionInactive):
			response.Conflict(c, "live session already ended")
		default:
			l.Error().Err(err).Str(log.FieldSessionID, id).Msg("failed to end live session")
			response.InternalError(c, "failed to end live session")
		}
		return
	}

	audit.Log(ctx, audit.ActionEndSession, audit.Entry{UserID: userID, SessionID: id}, "live session ended")
	response.Success(c, gin.H{"message": "live session ended successfully"})
}

// MyLiveSessions lists every session started by the caller.
func (h *Handler) MyLiveSessions(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	sessions, err := h.catalog.ListByTeacher(ctx, userID)
	if err != nil {
		l.Error().Err(err).Msg("failed to list my live sessions")
		response.InternalError(c, "failed to list live sessions")
		return
	}

	response.Success(c, h.merge(sessions))
}

func (h *Handler) merge(sessions []catalog.LiveSession) []LiveSessionView {
	live := make(map[string]room.Summary)
	for _, r := range h.rooms.Rooms() {
		live[r.SessionID] = r
	}

	out := make([]LiveSessionView, len(sessions))
	for i, s := range sessions {
		r := live[s.ID]
		out[i] = LiveSessionView{
			LiveSession:        s,
			BroadcasterPresent: r.Broadcaster != "",
			ViewerCount:        r.ViewerCount,
		}
	}
	return out
}
