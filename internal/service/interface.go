package service

import (
	"context"
	"time"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/catalog"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/hub"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/room"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/jwt"
)

// ClassroomService runs the live-classroom protocol for connected clients.
type ClassroomService interface {
	// Dispatch handles one decoded intent from a client.
	Dispatch(ctx context.Context, client *hub.Client, in domain.Intent)

	// HandleAuth authenticates the client with a bearer token.
	HandleAuth(ctx context.Context, client *hub.Client, token string) error

	// HandleDisconnect reconciles every room the client was part of.
	HandleDisconnect(ctx context.Context, client *hub.Client)

	// Rooms returns a snapshot of the live rooms.
	Rooms() []room.Summary

	// RunPresence writes room presence to the mirror in mutation order and
	// reconciles the mirror every interval (0 disables reconciliation). It
	// blocks until ctx is cancelled.
	RunPresence(ctx context.Context, every time.Duration)

	// ReconcilePresence realigns the mirror with the registry once.
	ReconcilePresence(ctx context.Context) error
}

// Transport is the room-addressed delivery layer the service drives.
type Transport interface {
	JoinRoom(clientID, roomID string)
	LeaveRoom(clientID, roomID string)
	SendToClient(clientID string, message interface{}) error
	BroadcastToRoom(roomID string, message interface{}, exclude string) error
}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// JoinGate decides whether a live session may be joined.
type JoinGate interface {
	CanJoin(ctx context.Context, req catalog.JoinRequest) error
}
