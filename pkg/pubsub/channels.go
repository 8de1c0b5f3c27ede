package pubsub

import (
	"encoding/json"
	"fmt"
)

// ChannelSessionEvents carries lifecycle and chat events of one live session.
const ChannelSessionEvents = "classroom:session:%s:events"

// Event types published by the classroom relay.
const (
	EventBroadcasterLive = "broadcaster_live"
	EventBroadcasterLeft = "broadcaster_left"
	EventViewerJoined    = "viewer_joined"
	EventViewerLeft      = "viewer_left"
	EventChatMessage     = "chat_message"
)

// Reasons attached to departure events.
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
	ReasonDisplaced  = "displaced"
)

// SessionEventsChannel returns the channel name for a live session.
func SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf(ChannelSessionEvents, sessionID)
}

// BroadcasterPayload describes a broadcaster state change.
type BroadcasterPayload struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle"`
	UserID    string `json:"user_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ViewerPayload describes a viewer joining or leaving.
type ViewerPayload struct {
	SessionID   string `json:"session_id"`
	Handle      string `json:"handle"`
	UserID      string `json:"user_id,omitempty"`
	ViewerCount int    `json:"viewer_count"`
	Reason      string `json:"reason,omitempty"`
}

// ChatPayload is a chat message as fanned out to the room.
type ChatPayload struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	Handle    string          `json:"handle"`
	User      string          `json:"user"`
	Message   json.RawMessage `json:"message"`
	UserType  json.RawMessage `json:"user_type"`
	Timestamp string          `json:"timestamp"`
}
