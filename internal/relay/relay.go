// Package relay implements the live-session protocol: room membership,
// point-to-point signaling, chat fan-out and disconnect reconciliation.
//
// The relay never touches a socket. Handle turns one intent into an ordered
// list of transport effects plus the room changes it caused.
package relay

import (
	"time"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/room"
)

// DefaultNoTeacherMessage is sent to students joining a session with no broadcaster.
const DefaultNoTeacherMessage = "لا يوجد معلم في الجلسة حاليًا."

// Origin identifies the connection an intent came from.
type Origin struct {
	Handle      string
	DisplayName string
}

// Options configures a Relay.
type Options struct {
	BroadcasterPolicy BroadcasterPolicy
	ChatPolicy        ChatPolicy
	NoTeacherMessage  string
	Now               func() time.Time
}

// Relay dispatches intents against a room registry.
type Relay struct {
	rooms *room.Registry
	opts  Options
}

// New creates a Relay over rooms.
func New(rooms *room.Registry, opts Options) *Relay {
	if opts.BroadcasterPolicy == "" {
		opts.BroadcasterPolicy = Displace
	}
	if opts.ChatPolicy == "" {
		opts.ChatPolicy = Open
	}
	if opts.NoTeacherMessage == "" {
		opts.NoTeacherMessage = DefaultNoTeacherMessage
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Relay{rooms: rooms, opts: opts}
}

// Rooms returns the registry the relay mutates.
func (r *Relay) Rooms() *room.Registry {
	return r.rooms
}

// Handle processes one intent from the given origin. Invalid intents produce
// an empty outcome.
func (r *Relay) Handle(from Origin, in domain.Intent) Outcome {
	var out Outcome
	if in == nil || from.Handle == "" || !in.Valid() {
		return out
	}

	switch in := in.(type) {
	case domain.JoinSession:
		if in.Role == domain.RoleTeacher {
			r.joinTeacher(&out, from, string(in.SessionID))
		} else {
			r.joinStudent(&out, from, string(in.SessionID))
		}
	case domain.LeaveSession:
		out.emit(Unsubscribe{Handle: from.Handle, Room: string(in.SessionID)})
		if in.Role == domain.RoleTeacher {
			r.leaveTeacher(&out, from, string(in.SessionID))
		} else {
			r.leaveStudent(&out, from, string(in.SessionID))
		}
	case domain.ViewerOffer:
		out.emit(SendTo{Handle: in.TeacherSID, Message: &domain.ViewerOfferMessage{
			Type:    domain.MsgTypeViewerOffer,
			FromSID: from.Handle,
			SDP:     in.SDP,
		}})
	case domain.ViewerAnswer:
		out.emit(SendTo{Handle: in.ToSID, Message: &domain.ViewerAnswerMessage{
			Type: domain.MsgTypeViewerAnswer,
			SDP:  in.SDP,
		}})
	case domain.ICECandidate:
		out.emit(SendTo{Handle: in.To, Message: &domain.ICECandidateMessage{
			Type:      domain.MsgTypeICECandidate,
			Candidate: in.Candidate,
			From:      from.Handle,
		}})
	case domain.SendMessage:
		r.sendMessage(&out, from, in)
	case domain.Disconnect:
		r.disconnect(&out, from)
	case domain.Ping:
		out.emit(SendTo{Handle: from.Handle, Message: &domain.PongMessage{Type: domain.MsgTypePong}})
	case domain.Auth:
		// identity is resolved by the caller before dispatch
	}
	return out
}

func (r *Relay) joinTeacher(out *Outcome, from Origin, sessionID string) {
	var (
		rejected  bool
		displaced string
		change    Change
	)
	r.rooms.Update(sessionID, true, func(st *room.State) {
		if prev := st.Broadcaster; prev != "" && prev != from.Handle {
			if r.opts.BroadcasterPolicy == Reject {
				rejected = true
				return
			}
			displaced = prev
		}
		delete(st.Viewers, from.Handle)
		st.Broadcaster = from.Handle
		change = changeOf(BroadcasterLive, st, from.Handle, "")
	})
	if rejected {
		return
	}

	out.emit(Subscribe{Handle: from.Handle, Room: sessionID})
	if displaced != "" {
		if r.opts.BroadcasterPolicy == Notify {
			out.emit(SendTo{Handle: displaced, Message: &domain.TeacherReplacedMessage{
				Type:      domain.MsgTypeTeacherReplaced,
				SessionID: sessionID,
			}})
		}
		left := change
		left.Kind, left.Handle, left.Reason = BroadcasterLeft, displaced, ReasonDisplaced
		out.record(left)
	}
	out.emit(Broadcast{
		Room:    sessionID,
		Message: &domain.TeacherLiveMessage{Type: domain.MsgTypeTeacherLive, Status: domain.TeacherLiveStatus},
		Exclude: from.Handle,
	})
	out.record(change)
}

func (r *Relay) joinStudent(out *Outcome, from Origin, sessionID string) {
	// A waiting student stays in the transport room so it hears teacher_live.
	out.emit(Subscribe{Handle: from.Handle, Room: sessionID})

	r.rooms.Update(sessionID, false, func(st *room.State) {
		switch {
		case st == nil || st.Broadcaster == "":
			out.emit(SendTo{Handle: from.Handle, Message: &domain.NoTeacherMessage{
				Type:    domain.MsgTypeNoTeacher,
				Message: r.opts.NoTeacherMessage,
			}})
		case st.Broadcaster == from.Handle:
			// the broadcaster cannot also be a viewer of its own room
		default:
			added := !st.HasViewer(from.Handle)
			st.Viewers[from.Handle] = struct{}{}
			out.emit(SendTo{Handle: from.Handle, Message: &domain.TeacherJoinedMessage{
				Type:       domain.MsgTypeTeacherJoined,
				TeacherSID: st.Broadcaster,
			}})
			if added {
				out.record(changeOf(ViewerJoined, st, from.Handle, ""))
			}
		}
	})
}

func (r *Relay) leaveTeacher(out *Outcome, from Origin, sessionID string) {
	r.rooms.Update(sessionID, false, func(st *room.State) {
		if st == nil || st.Broadcaster != from.Handle {
			return
		}
		r.clearBroadcaster(out, st, from.Handle, ReasonExplicit)
	})
}

func (r *Relay) leaveStudent(out *Outcome, from Origin, sessionID string) {
	r.rooms.Update(sessionID, false, func(st *room.State) {
		if st == nil || !st.HasViewer(from.Handle) {
			return
		}
		r.removeViewer(out, st, from.Handle, ReasonExplicit)
	})
}

func (r *Relay) sendMessage(out *Outcome, from Origin, in domain.SendMessage) {
	sessionID := string(in.SessionID)

	var st room.Summary
	if r.opts.ChatPolicy == MembersOnly {
		var ok bool
		st, ok = r.rooms.Lookup(sessionID)
		if !ok || !isMember(st, from.Handle) {
			return
		}
	}

	msg := &domain.NewMessage{
		Type:      domain.MsgTypeNewMessage,
		User:      from.DisplayName,
		Message:   in.Message,
		UserType:  in.UserType,
		Timestamp: r.opts.Now().UTC().Format(domain.TimestampLayout),
	}
	if msg.User == "" {
		msg.User = domain.AnonymousName
	}
	out.emit(Broadcast{Room: sessionID, Message: msg})
	out.record(Change{
		Kind:        ChatPosted,
		SessionID:   sessionID,
		Handle:      from.Handle,
		Broadcaster: st.Broadcaster,
		ViewerCount: st.ViewerCount,
		Chat:        msg,
	})
}

func (r *Relay) disconnect(out *Outcome, from Origin) {
	for sessionID := range r.rooms.FindRoomsContaining(from.Handle) {
		r.rooms.Update(sessionID, false, func(st *room.State) {
			switch {
			case st == nil:
			case st.Broadcaster == from.Handle:
				r.clearBroadcaster(out, st, from.Handle, ReasonDisconnect)
			case st.HasViewer(from.Handle):
				r.removeViewer(out, st, from.Handle, ReasonDisconnect)
			}
		})
	}
}

// clearBroadcaster must run inside a registry update.
func (r *Relay) clearBroadcaster(out *Outcome, st *room.State, handle, reason string) {
	st.Broadcaster = ""
	out.emit(Broadcast{
		Room:    st.SessionID,
		Message: &domain.TeacherLeftMessage{Type: domain.MsgTypeTeacherLeft},
		Exclude: handle,
	})
	out.record(changeOf(BroadcasterLeft, st, handle, reason))
}

// removeViewer must run inside a registry update.
func (r *Relay) removeViewer(out *Outcome, st *room.State, handle, reason string) {
	delete(st.Viewers, handle)
	if st.Broadcaster != "" {
		out.emit(SendTo{Handle: st.Broadcaster, Message: &domain.PeerLeftMessage{
			Type:       domain.MsgTypePeerLeft,
			StudentSID: handle,
		}})
	}
	out.record(changeOf(ViewerLeft, st, handle, reason))
}

func changeOf(kind ChangeKind, st *room.State, handle, reason string) Change {
	return Change{
		Kind:        kind,
		SessionID:   st.SessionID,
		Handle:      handle,
		Reason:      reason,
		Broadcaster: st.Broadcaster,
		ViewerCount: len(st.Viewers),
		CreatedAt:   st.CreatedAt,
		Closed:      st.Empty(),
	}
}

func isMember(st room.Summary, handle string) bool {
	if st.Broadcaster == handle {
		return true
	}
	for _, v := range st.Viewers {
		if v == handle {
			return true
		}
	}
	return false
}
