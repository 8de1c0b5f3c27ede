package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/audit"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/catalog"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/hub"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/presence"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/relay"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/room"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/pubsub"
)

const publishTimeout = 2 * time.Second

var ErrAuthDisabled = errors.New("authentication is not configured")

// Options holds the optional collaborators of the classroom service.
type Options struct {
	Tokens    TokenValidator
	Gate      JoinGate // consulted only when EnforceJoin is set
	Publisher pubsub.Publisher
	Mirror    presence.Mirror

	EnforceJoin bool
}

type classroomService struct {
	transport Transport
	relay     *relay.Relay
	tokens    TokenValidator
	gate      JoinGate
	publisher pubsub.Publisher
	presence  *presence.Syncer // nil when mirroring is disabled

	enforceJoin bool

	// dispatchMu makes relay handling and effect delivery one step, so
	// notifications leave in the order the registry was mutated.
	dispatchMu sync.Mutex
	newID      func() string
}

// NewClassroomService creates a new ClassroomService instance.
func NewClassroomService(t Transport, r *relay.Relay, opts Options) ClassroomService {
	s := &classroomService{
		transport:   t,
		relay:       r,
		tokens:      opts.Tokens,
		gate:        opts.Gate,
		publisher:   opts.Publisher,
		enforceJoin: opts.EnforceJoin && opts.Gate != nil,
		newID:       func() string { return ulid.Make().String() },
	}
	if s.publisher == nil {
		s.publisher = pubsub.NopPublisher{}
	}
	if opts.Mirror != nil {
		s.presence = presence.NewSyncer(opts.Mirror)
	}
	return s
}

func (s *classroomService) Dispatch(ctx context.Context, c *hub.Client, in domain.Intent) {
	l := log.Ctx(ctx)

	switch in := in.(type) {
	case domain.Auth:
		if err := s.HandleAuth(ctx, c, in.Token); err != nil {
			l.Warn().Err(err).Str(log.FieldHandle, c.ID).Msg("auth failed")
		}
		return
	case domain.JoinSession:
		if s.enforceJoin {
			err := s.gate.CanJoin(ctx, catalog.JoinRequest{
				SessionID: string(in.SessionID),
				UserID:    c.Session.GetUserID(),
				AsTeacher: in.Role == domain.RoleTeacher,
				Password:  in.Password,
			})
			if err != nil {
				audit.Log(ctx, audit.ActionJoinDenied, audit.Entry{UserID: c.Session.GetUserID(), Handle: c.ID, SessionID: string(in.SessionID), Detail: err.Error()}, "join refused by catalog")
				return
			}
		}
	}

	out := s.apply(s.origin(c), in)
	s.report(ctx, c, in, out)
}

func (s *classroomService) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	if s.tokens == nil {
		s.transport.SendToClient(c.ID, &domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: ErrAuthDisabled.Error(),
		})
		return ErrAuthDisabled
	}

	claims, err := s.tokens.Validate(token)
	if err != nil {
		s.transport.SendToClient(c.ID, &domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: err.Error(),
		})
		audit.Log(ctx, audit.ActionAuthFailed, audit.Entry{Handle: c.ID, Detail: err.Error()}, "websocket authentication failed")
		return err
	}

	c.Session.Authenticate(claims.UserID, claims.Username, claims.Role)
	audit.Log(ctx, audit.ActionAuth, audit.Entry{UserID: claims.UserID, Handle: c.ID}, "websocket authenticated")

	return s.transport.SendToClient(c.ID, &domain.AuthResultMessage{
		Type:     domain.MsgTypeAuthResult,
		Success:  true,
		UserID:   claims.UserID,
		Username: claims.Username,
	})
}

func (s *classroomService) HandleDisconnect(ctx context.Context, c *hub.Client) {
	in := domain.Disconnect{}
	out := s.apply(s.origin(c), in)
	s.report(ctx, c, in, out)
}

func (s *classroomService) Rooms() []room.Summary {
	return s.relay.Rooms().Snapshot()
}

func (s *classroomService) origin(c *hub.Client) relay.Origin {
	name := domain.AnonymousName
	if c.Session != nil {
		name = c.Session.DisplayName()
	}
	return relay.Origin{Handle: c.ID, DisplayName: name}
}

// apply runs the relay and delivers its effects. Delivery never blocks.
func (s *classroomService) apply(from relay.Origin, in domain.Intent) relay.Outcome {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	out := s.relay.Handle(from, in)

	// enqueued under dispatchMu so the mirror sees rooms in mutation order
	for _, ch := range out.Changes {
		if s.presence != nil && ch.Kind != relay.ChatPosted {
			s.presence.Enqueue(presenceOf(ch))
		}
	}

	for _, e := range out.Effects {
		var err error
		switch e := e.(type) {
		case relay.Subscribe:
			s.transport.JoinRoom(e.Handle, e.Room)
		case relay.Unsubscribe:
			s.transport.LeaveRoom(e.Handle, e.Room)
		case relay.SendTo:
			err = s.transport.SendToClient(e.Handle, e.Message)
		case relay.Broadcast:
			err = s.transport.BroadcastToRoom(e.Room, e.Message, e.Exclude)
		}
		if err != nil {
			l := log.L()
			l.Error().Err(err).Str(log.FieldHandle, from.Handle).Str(log.FieldIntent, in.Kind()).Msg("failed to deliver effect")
		}
	}
	return out
}

// report audits the intent and publishes the room changes it caused.
// Failures here never affect delivery.
func (s *classroomService) report(ctx context.Context, c *hub.Client, in domain.Intent, out relay.Outcome) {
	userID := ""
	if c.Session != nil {
		userID = c.Session.GetUserID()
	}

	switch in := in.(type) {
	case domain.JoinSession:
		audit.Log(ctx, audit.ActionJoinSession, audit.Entry{UserID: userID, Handle: c.ID, SessionID: string(in.SessionID)}, "joined live session as "+string(in.Role))
	case domain.LeaveSession:
		audit.Log(ctx, audit.ActionLeaveSession, audit.Entry{UserID: userID, Handle: c.ID, SessionID: string(in.SessionID)}, "left live session as "+string(in.Role))
	case domain.SendMessage:
		if len(out.Effects) > 0 {
			audit.Log(ctx, audit.ActionSendMessage, audit.Entry{UserID: userID, Handle: c.ID, SessionID: string(in.SessionID)}, "sent chat message")
		}
	case domain.Disconnect:
		audit.Log(ctx, audit.ActionDisconnect, audit.Entry{UserID: userID, Handle: c.ID}, "client disconnected")
	}

	if len(out.Changes) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	l := log.Ctx(ctx)
	for _, ch := range out.Changes {
		actor := ""
		if ch.Handle == c.ID {
			actor = userID
		}
		if err := s.publish(ctx, ch, actor); err != nil {
			l.Warn().Err(err).Str(log.FieldSessionID, ch.SessionID).Str("event", string(ch.Kind)).Msg("failed to publish room event")
		}
	}
}

func presenceOf(ch relay.Change) presence.Room {
	return presence.Room{
		SessionID:   ch.SessionID,
		Broadcaster: ch.Broadcaster,
		ViewerCount: ch.ViewerCount,
		CreatedAt:   ch.CreatedAt,
		Closed:      ch.Closed,
	}
}

func (s *classroomService) RunPresence(ctx context.Context, every time.Duration) {
	if s.presence == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.presence.Run(ctx)
		close(done)
	}()

	if every > 0 {
		l := log.Ctx(ctx)
		// rooms left behind by a previous process are closed on startup
		if err := s.ReconcilePresence(ctx); err != nil {
			l.Warn().Err(err).Msg("failed to reconcile room presence")
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				<-done
				return
			case <-ticker.C:
				if err := s.ReconcilePresence(ctx); err != nil {
					l.Warn().Err(err).Msg("failed to reconcile room presence")
				}
			}
		}
	}
	<-done
}

// ReconcilePresence closes mirrored rooms the registry no longer holds and
// rewrites the ones it does. The registry is read under dispatchMu so the
// rewrites are ordered with ongoing mutations.
func (s *classroomService) ReconcilePresence(ctx context.Context) error {
	if s.presence == nil {
		return nil
	}
	mirrored, err := s.presence.LiveRooms(ctx)
	if err != nil {
		return err
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	live := make(map[string]bool)
	for _, r := range s.relay.Rooms().Snapshot() {
		live[r.SessionID] = true
		s.presence.Enqueue(presence.Room{
			SessionID:   r.SessionID,
			Broadcaster: r.Broadcaster,
			ViewerCount: r.ViewerCount,
			CreatedAt:   r.CreatedAt,
		})
	}
	for _, id := range mirrored {
		if !live[id] {
			s.presence.Enqueue(presence.Room{SessionID: id, Closed: true})
		}
	}
	return nil
}

func (s *classroomService) publish(ctx context.Context, ch relay.Change, userID string) error {
	var (
		eventType string
		payload   interface{}
	)
	switch ch.Kind {
	case relay.BroadcasterLive, relay.BroadcasterLeft:
		eventType = pubsub.EventBroadcasterLive
		if ch.Kind == relay.BroadcasterLeft {
			eventType = pubsub.EventBroadcasterLeft
		}
		payload = &pubsub.BroadcasterPayload{
			SessionID: ch.SessionID,
			Handle:    ch.Handle,
			UserID:    userID,
			Reason:    ch.Reason,
		}
	case relay.ViewerJoined, relay.ViewerLeft:
		eventType = pubsub.EventViewerJoined
		if ch.Kind == relay.ViewerLeft {
			eventType = pubsub.EventViewerLeft
		}
		payload = &pubsub.ViewerPayload{
			SessionID:   ch.SessionID,
			Handle:      ch.Handle,
			UserID:      userID,
			ViewerCount: ch.ViewerCount,
			Reason:      ch.Reason,
		}
	case relay.ChatPosted:
		eventType = pubsub.EventChatMessage
		payload = &pubsub.ChatPayload{
			MessageID: s.newID(),
			SessionID: ch.SessionID,
			Handle:    ch.Handle,
			User:      ch.Chat.User,
			Message:   ch.Chat.Message,
			UserType:  ch.Chat.UserType,
			Timestamp: ch.Chat.Timestamp,
		}
	default:
		return nil
	}

	event, err := pubsub.NewEvent(eventType, ch.SessionID, payload)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, pubsub.SessionEventsChannel(ch.SessionID), event)
}
