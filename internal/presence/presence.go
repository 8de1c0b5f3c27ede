// Package presence mirrors live room occupancy into Redis so other services
// can see which classes are on air.
package presence

import (
	"context"
	"time"
)

const (
	keyPrefix   = "classroom"
	liveRoomSet = keyPrefix + ":live_rooms"
)

// RoomKey returns the hash key holding one room's presence.
func RoomKey(sessionID string) string {
	return keyPrefix + ":room:" + sessionID
}

// LiveRoomsKey returns the set of session ids with a live room.
func LiveRoomsKey() string {
	return liveRoomSet
}

// Room is the mirrored state of one room.
type Room struct {
	SessionID   string
	Broadcaster string
	ViewerCount int
	CreatedAt   time.Time
	// Closed removes the room from the mirror.
	Closed bool
}

// Mirror publishes room presence.
type Mirror interface {
	Sync(ctx context.Context, room Room) error
	LiveRooms(ctx context.Context) ([]string, error)
	Close() error
}
