package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/catalog"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/domain"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/hub"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/presence"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/relay"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/room"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/database"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/jwt"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/pubsub"
)

type sent struct {
	to      string
	room    string
	exclude string
	msgType string
}

type fakeTransport struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
	sent   []sent
}

func msgType(m interface{}) string {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	var base domain.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		panic(err)
	}
	return base.Type
}

func (f *fakeTransport) JoinRoom(clientID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, clientID+"@"+roomID)
}

func (f *fakeTransport) LeaveRoom(clientID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, clientID+"@"+roomID)
}

func (f *fakeTransport) SendToClient(clientID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: clientID, msgType: msgType(message)})
	return nil
}

func (f *fakeTransport) snapshot() ([]string, []sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...), append([]sent(nil), f.sent...)
}

func (f *fakeTransport) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: roomID, exclude: exclude, msgType: msgType(message)})
	return nil
}

type published struct {
	channel string
	event   *pubsub.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, event *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel: channel, event: event})
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.event.Type
	}
	return out
}

// fakeMirror applies syncs to an in-memory view of the mirror. When stall is
// set, the first Sync signals entered and waits for release.
type fakeMirror struct {
	mu    sync.Mutex
	rooms map[string]presence.Room
	syncs []presence.Room

	stall   bool
	entered chan struct{}
	release chan struct{}
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		rooms:   make(map[string]presence.Room),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *fakeMirror) Sync(_ context.Context, r presence.Room) error {
	m.mu.Lock()
	stall := m.stall
	m.stall = false
	m.mu.Unlock()
	if stall {
		close(m.entered)
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, r)
	if r.Closed {
		delete(m.rooms, r.SessionID)
	} else {
		m.rooms[r.SessionID] = r
	}
	return nil
}

func (m *fakeMirror) LiveRooms(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *fakeMirror) Close() error { return nil }

func (m *fakeMirror) state() (map[string]presence.Room, []presence.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make(map[string]presence.Room, len(m.rooms))
	for id, r := range m.rooms {
		rooms[id] = r
	}
	return rooms, append([]presence.Room(nil), m.syncs...)
}

// fakeGate admits teachers only for owned sessions and records every request.
type fakeGate struct {
	mu    sync.Mutex
	owner string
	err   error
	reqs  []catalog.JoinRequest
}

func (g *fakeGate) CanJoin(_ context.Context, req catalog.JoinRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return g.err
	}
	if req.AsTeacher && req.UserID != g.owner {
		return catalog.ErrNotSessionOwner
	}
	return nil
}

func newClient(id string) *hub.Client {
	return &hub.Client{ID: id, Session: domain.NewSession(id)}
}

func authedClient(id, userID string) *hub.Client {
	c := newClient(id)
	c.Session.Authenticate(userID, "user-"+userID, jwt.RoleTeacher)
	return c
}

type fixture struct {
	svc       ClassroomService
	transport *fakeTransport
	publisher *fakePublisher
	mirror    *fakeMirror
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		transport: &fakeTransport{},
		publisher: &fakePublisher{},
		mirror:    newFakeMirror(),
	}
	if opts.Publisher == nil {
		opts.Publisher = f.publisher
	}
	opts.Mirror = f.mirror
	r := relay.New(room.NewRegistry(), relay.Options{})
	f.svc = NewClassroomService(f.transport, r, opts)
	return f
}

// runPresence starts the mirror writer for the rest of the test.
func (f *fixture) runPresence(t *testing.T, every time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunPresence(ctx, every)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatchAppliesEffectsAndPublishes(t *testing.T) {
	f := newFixture(t, Options{})
	f.runPresence(t, 0)
	ctx := context.Background()
	b, v := newClient("B"), newClient("V")

	f.svc.Dispatch(ctx, b, domain.JoinSession{SessionID: "S1", Role: domain.RoleTeacher})
	f.svc.Dispatch(ctx, v, domain.JoinSession{SessionID: "S1", Role: domain.RoleStudent})
	f.svc.Dispatch(ctx, v, domain.SendMessage{SessionID: "S1", Message: json.RawMessage(`"hi"`)})

	joins, got := f.transport.snapshot()
	assert.Equal(t, []string{"B@S1", "V@S1"}, joins)
	assert.Equal(t, []sent{
		{room: "S1", exclude: "B", msgType: domain.MsgTypeTeacherLive},
		{to: "V", msgType: domain.MsgTypeTeacherJoined},
		{room: "S1", msgType: domain.MsgTypeNewMessage},
	}, got)

	require.Equal(t, []string{pubsub.EventBroadcasterLive, pubsub.EventViewerJoined, pubsub.EventChatMessage}, f.publisher.types())
	for _, e := range f.publisher.events {
		assert.Equal(t, "classroom:session:S1:events", e.channel, e.event.Type)
		assert.Equal(t, "S1", e.event.RoomID, e.event.Type)
	}

	var chat pubsub.ChatPayload
	require.NoError(t, f.publisher.events[2].event.UnmarshalPayload(&chat))
	assert.Len(t, chat.MessageID, 26)
	assert.Equal(t, `"hi"`, string(chat.Message))
	assert.Equal(t, domain.AnonymousName, chat.User)

	// broadcaster_live and viewer_joined are mirrored, chat is not
	require.Eventually(t, func() bool {
		rooms, _ := f.mirror.state()
		return rooms["S1"].ViewerCount == 1
	}, 2*time.Second, 5*time.Millisecond)
	rooms, syncs := f.mirror.state()
	assert.Equal(t, "B", rooms["S1"].Broadcaster)
	assert.LessOrEqual(t, len(syncs), 2)
}

func TestDisconnectPublishesDeparture(t *testing.T) {
	f := newFixture(t, Options{})
	f.runPresence(t, 0)
	ctx := context.Background()
	b := newClient("B")

	f.svc.Dispatch(ctx, b, domain.JoinSession{SessionID: "S1", Role: domain.RoleTeacher})
	require.Eventually(t, func() bool {
		rooms, _ := f.mirror.state()
		_, ok := rooms["S1"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	f.svc.HandleDisconnect(ctx, b)

	assert.Empty(t, f.svc.Rooms())
	require.NotEmpty(t, f.publisher.events)
	last := f.publisher.events[len(f.publisher.events)-1]
	var p pubsub.BroadcasterPayload
	require.NoError(t, last.event.UnmarshalPayload(&p))
	assert.Equal(t, pubsub.EventBroadcasterLeft, last.event.Type)
	assert.Equal(t, pubsub.ReasonDisconnect, p.Reason)
	assert.Equal(t, "B", p.Handle)

	assert.Eventually(t, func() bool {
		rooms, syncs := f.mirror.state()
		_, ok := rooms["S1"]
		return !ok && len(syncs) > 0 && syncs[len(syncs)-1].Closed
	}, 2*time.Second, 5*time.Millisecond, "last mirror sync should close the room")
}

func TestMirrorWritesFollowMutationOrder(t *testing.T) {
	f := newFixture(t, Options{})
	f.mirror.stall = true
	f.runPresence(t, 0)
	ctx := context.Background()
	b := newClient("B")

	f.svc.Dispatch(ctx, b, domain.JoinSession{SessionID: "S1", Role: domain.RoleTeacher})

	// the live write is in flight while the teacher leaves
	select {
	case <-f.mirror.entered:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "mirror never received the live room")
	}
	f.svc.Dispatch(ctx, b, domain.LeaveSession{SessionID: "S1", Role: domain.RoleTeacher})
	close(f.mirror.release)

	require.Eventually(t, func() bool {
		_, syncs := f.mirror.state()
		return len(syncs) == 2
	}, 2*time.Second, 5*time.Millisecond)
	rooms, syncs := f.mirror.state()
	assert.False(t, syncs[0].Closed)
	assert.True(t, syncs[1].Closed)
	assert.Empty(t, rooms, "closed room must not be left in the mirror")
}

func TestReconcilePresence(t *testing.T) {
	f := newFixture(t, Options{})
	f.mirror.rooms["ghost"] = presence.Room{SessionID: "ghost", Broadcaster: "old"}
	f.mirror.rooms["S1"] = presence.Room{SessionID: "S1", Broadcaster: "stale", ViewerCount: 9}
	f.runPresence(t, 0)
	ctx := context.Background()

	f.svc.Dispatch(ctx, newClient("B"), domain.JoinSession{SessionID: "S1", Role: domain.RoleTeacher})
	f.svc.Dispatch(ctx, newClient("V"), domain.JoinSession{SessionID: "S2", Role: domain.RoleStudent})
	require.NoError(t, f.svc.ReconcilePresence(ctx))

	assert.Eventually(t, func() bool {
		rooms, _ := f.mirror.state()
		_, ghost := rooms["ghost"]
		return !ghost && len(rooms) == 1 && rooms["S1"].Broadcaster == "B" && rooms["S1"].ViewerCount == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunPresenceReconcilesOnStart(t *testing.T) {
	f := newFixture(t, Options{})
	f.mirror.rooms["ghost"] = presence.Room{SessionID: "ghost", Broadcaster: "old"}

	f.runPresence(t, time.Hour)

	assert.Eventually(t, func() bool {
		rooms, _ := f.mirror.state()
		return len(rooms) == 0
	}, 2*time.Second, 5*time.Millisecond, "rooms left by a previous process should be closed")
}

func TestPresenceDisabled(t *testing.T) {
	svc := NewClassroomService(&fakeTransport{}, relay.New(room.NewRegistry(), relay.Options{}), Options{})

	svc.Dispatch(context.Background(), newClient("B"), domain.JoinSession{SessionID: "S1", Role: domain.RoleTeacher})
	assert.NoError(t, svc.ReconcilePresence(context.Background()))

	done := make(chan struct{})
	go func() {
		svc.RunPresence(context.Background(), time.Minute)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "RunPresence should return at once without a mirror")
	}
}

func TestPublishFailureDoesNotAffectDelivery(t *testing.T) {
	pub := &fakePublisher{err: errors.New("bus down")}
	f := newFixture(t, Options{Publisher: pub})

	f.svc.Dispatch(context.Background(), newClient("V"), domain.JoinSession{SessionID: "S1", Role: domain.RoleStudent})

	_, got := f.transport.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeNoTeacher, got[0].msgType)
}

func TestJoinGate(t *testing.T) {
	tests := []struct {
		name      string
		enforce   bool
		gateErr   error
		client    *hub.Client
		role      domain.Role
		wantJoins int
	}{
		{"not enforced", false, errors.New("closed"), newClient("B"), domain.RoleTeacher, 1},
		{"enforced owner", true, nil, authedClient("B", "t1"), domain.RoleTeacher, 1},
		{"enforced non-owner teacher", true, nil, authedClient("B", "t2"), domain.RoleTeacher, 0},
		{"enforced anonymous teacher", true, nil, newClient("B"), domain.RoleTeacher, 0},
		{"enforced student", true, nil, newClient("V"), domain.RoleStudent, 1},
		{"enforced and denied", true, errors.New("closed"), newClient("V"), domain.RoleStudent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := &fakeGate{owner: "t1", err: tt.gateErr}
			f := newFixture(t, Options{Gate: gate, EnforceJoin: tt.enforce})
			f.svc.Dispatch(context.Background(), tt.client, domain.JoinSession{SessionID: "7", Role: tt.role, Password: "pw"})

			joins, got := f.transport.snapshot()
			assert.Len(t, joins, tt.wantJoins)
			if tt.wantJoins == 0 {
				assert.Empty(t, got, "denied join must be silent")
				assert.Empty(t, f.svc.Rooms())
			}
			if !tt.enforce {
				assert.Empty(t, gate.reqs)
				return
			}
			require.Len(t, gate.reqs, 1)
			assert.Equal(t, catalog.JoinRequest{
				SessionID: "7",
				UserID:    tt.client.Session.GetUserID(),
				AsTeacher: tt.role == domain.RoleTeacher,
				Password:  "pw",
			}, gate.reqs[0])
		})
	}
}

func TestCatalogGateRefusesForeignTeacher(t *testing.T) {
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file::memory:",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &catalog.LiveSessionModel{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	cat := catalog.NewService(catalog.NewGormRepository(db))
	ctx := context.Background()
	session, err := cat.Start(ctx, "t1", "Ms. Salma", &catalog.StartRequest{Title: "Algebra"})
	require.NoError(t, err)

	f := newFixture(t, Options{Gate: cat, EnforceJoin: true})
	sid := domain.SessionID(session.ID)

	f.svc.Dispatch(ctx, authedClient("X", "t2"), domain.JoinSession{SessionID: sid, Role: domain.RoleTeacher})
	assert.Empty(t, f.svc.Rooms(), "a teacher who does not own the session must not broadcast")

	f.svc.Dispatch(ctx, authedClient("B", "t1"), domain.JoinSession{SessionID: sid, Role: domain.RoleTeacher})
	rooms := f.svc.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "B", rooms[0].Broadcaster)
}

func TestHandleAuth(t *testing.T) {
	tokens, err := jwt.NewManager("test-secret", "school-platform", time.Hour)
	require.NoError(t, err)
	f := newFixture(t, Options{Tokens: tokens})
	ctx := context.Background()

	token, err := tokens.Generate("u7", "Omar", jwt.RoleStudent)
	require.NoError(t, err)

	c := newClient("V")
	f.svc.Dispatch(ctx, c, domain.Auth{Token: token})
	require.Equal(t, "u7", c.Session.GetUserID())
	require.Equal(t, "Omar", c.Session.DisplayName())

	bad := newClient("X")
	assert.Error(t, f.svc.HandleAuth(ctx, bad, "garbage"))
	assert.Empty(t, bad.Session.GetUserID(), "invalid token must not authenticate")
	assert.Equal(t, domain.AnonymousName, bad.Session.DisplayName())

	_, got := f.transport.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, domain.MsgTypeAuthResult, got[0].msgType)
	assert.Equal(t, domain.MsgTypeAuthResult, got[1].msgType)

	// chat now carries the display name
	f.svc.Dispatch(ctx, c, domain.SendMessage{SessionID: "S1", Message: json.RawMessage(`"hello"`)})
	require.NotEmpty(t, f.publisher.events)
	var chat pubsub.ChatPayload
	require.NoError(t, f.publisher.events[len(f.publisher.events)-1].event.UnmarshalPayload(&chat))
	assert.Equal(t, "Omar", chat.User)
}

func TestHandleAuthDisabled(t *testing.T) {
	f := newFixture(t, Options{})
	assert.ErrorIs(t, f.svc.HandleAuth(context.Background(), newClient("V"), "t"), ErrAuthDisabled)
}
