package presence

import (
	"context"
	"sync"
	"time"

	"github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
)

const finalFlushTimeout = 5 * time.Second

// Syncer writes room presence to a Mirror from a single goroutine.
// Rooms are written in the order they were enqueued; a room enqueued again
// before it was written keeps its place and takes the newer state, so the
// last write for a session is always the last state enqueued for it.
type Syncer struct {
	mirror Mirror

	mu      sync.Mutex
	pending map[string]Room
	order   []string
	wake    chan struct{}
}

// NewSyncer creates a Syncer for m.
func NewSyncer(m Mirror) *Syncer {
	return &Syncer{
		mirror:  m,
		pending: make(map[string]Room),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue schedules room to be written. It never blocks.
func (s *Syncer) Enqueue(room Room) {
	s.mu.Lock()
	if _, ok := s.pending[room.SessionID]; !ok {
		s.order = append(s.order, room.SessionID)
	}
	s.pending[room.SessionID] = room
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of rooms waiting to be written.
func (s *Syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// LiveRooms lists the session ids the mirror currently holds as live.
func (s *Syncer) LiveRooms(ctx context.Context) ([]string, error) {
	return s.mirror.LiveRooms(ctx)
}

// Run writes enqueued rooms until ctx is cancelled, then flushes what is left.
func (s *Syncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			s.drain(log.WithLogger(flushCtx, log.Ctx(ctx)))
			cancel()
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

func (s *Syncer) drain(ctx context.Context) {
	for {
		room, ok := s.next()
		if !ok {
			return
		}
		if err := s.mirror.Sync(ctx, room); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldSessionID, room.SessionID).Msg("failed to mirror room presence")
		}
	}
}

func (s *Syncer) next() (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return Room{}, false
	}
	id := s.order[0]
	s.order = s.order[1:]
	room := s.pending[id]
	delete(s.pending, id)
	return room, true
}
