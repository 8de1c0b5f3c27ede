package relay

import (
	"time"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
)

// Effect is one transport action produced by the relay. Effects are applied
// in order.
type Effect interface {
	effect()
}

// Subscribe associates a handle with a transport room.
type Subscribe struct {
	Handle string
	Room   string
}

// Unsubscribe removes a handle from a transport room.
type Unsubscribe struct {
	Handle string
	Room   string
}

// SendTo delivers a message to one handle.
type SendTo struct {
	Handle  string
	Message any
}

// Broadcast delivers a message to every handle in a room except Exclude.
type Broadcast struct {
	Room    string
	Message any
	Exclude string
}

func (Subscribe) effect()   {}
func (Unsubscribe) effect() {}
func (SendTo) effect()      {}
func (Broadcast) effect()   {}

// ChangeKind names a room state change worth reporting outside the relay.
type ChangeKind string

const (
	BroadcasterLive ChangeKind = "broadcaster_live"
	BroadcasterLeft ChangeKind = "broadcaster_left"
	ViewerJoined    ChangeKind = "viewer_joined"
	ViewerLeft      ChangeKind = "viewer_left"
	ChatPosted      ChangeKind = "chat_message"
)

// Reasons carried by departure changes.
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
	ReasonDisplaced  = "displaced"
)

// Change describes a room after one mutation, or a chat message posted to it.
type Change struct {
	Kind        ChangeKind
	SessionID   string
	Handle      string
	Reason      string
	Broadcaster string
	ViewerCount int
	CreatedAt   time.Time
	// Closed is set when the mutation left the room empty and it was removed.
	Closed bool
	Chat   *domain.NewMessage
}

// Outcome is everything one intent produced.
type Outcome struct {
	Effects []Effect
	Changes []Change
}

func (o *Outcome) emit(e Effect) {
	o.Effects = append(o.Effects, e)
}

func (o *Outcome) record(c Change) {
	o.Changes = append(o.Changes, c)
}
