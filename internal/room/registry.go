// Package room holds the in-memory participant state of live sessions.
package room

import (
	"iter"
	"sort"
	"sync"
	"time"
)

// State is the participant state of one live session.
type State struct {
	SessionID   string
	Broadcaster string // empty when no broadcaster
	Viewers     map[string]struct{}
	CreatedAt   time.Time
}

// Empty reports whether the room has neither a broadcaster nor viewers.
func (s *State) Empty() bool {
	return s.Broadcaster == "" && len(s.Viewers) == 0
}

// HasViewer reports whether handle is a viewer of the room.
func (s *State) HasViewer(handle string) bool {
	_, ok := s.Viewers[handle]
	return ok
}

// Contains reports whether handle is the broadcaster or a viewer.
func (s *State) Contains(handle string) bool {
	return s.Broadcaster == handle && handle != "" || s.HasViewer(handle)
}

// Summary is a read-only copy of a room.
type Summary struct {
	SessionID   string    `json:"session_id"`
	Broadcaster string    `json:"broadcaster,omitempty"`
	Viewers     []string  `json:"viewers"`
	ViewerCount int       `json:"viewer_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *State) summary() Summary {
	viewers := make([]string, 0, len(s.Viewers))
	for v := range s.Viewers {
		viewers = append(viewers, v)
	}
	sort.Strings(viewers)
	return Summary{
		SessionID:   s.SessionID,
		Broadcaster: s.Broadcaster,
		Viewers:     viewers,
		ViewerCount: len(viewers),
		CreatedAt:   s.CreatedAt,
	}
}

// Registry maps session ids to room state. One lock serialises every
// get-mutate-remove sequence; contention is low.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*State
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*State),
		now:   time.Now,
	}
}

// Update runs fn on the room for sessionID while holding the registry lock.
// With create set, a missing room is inserted first; otherwise fn receives nil
// for a missing room. The room is removed afterwards if fn left it empty.
func (r *Registry) Update(sessionID string, create bool, fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st *State
	if create {
		st = r.getOrCreate(sessionID)
	} else {
		st = r.rooms[sessionID]
	}
	fn(st)
	r.removeIfEmpty(sessionID)
}

// GetOrCreate returns the room for sessionID, inserting an empty one if needed.
// The returned state must only be mutated through Update.
func (r *Registry) GetOrCreate(sessionID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreate(sessionID)
}

func (r *Registry) getOrCreate(sessionID string) *State {
	if st, ok := r.rooms[sessionID]; ok {
		return st
	}
	st := &State{
		SessionID: sessionID,
		Viewers:   make(map[string]struct{}),
		CreatedAt: r.now().UTC(),
	}
	r.rooms[sessionID] = st
	return st
}

// RemoveIfEmpty deletes the room when it has no broadcaster and no viewers.
// It is a no-op for missing or non-empty rooms.
func (r *Registry) RemoveIfEmpty(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeIfEmpty(sessionID)
}

func (r *Registry) removeIfEmpty(sessionID string) {
	if st, ok := r.rooms[sessionID]; ok && st.Empty() {
		delete(r.rooms, sessionID)
	}
}

// FindRoomsContaining yields every session where handle is the broadcaster or
// a viewer. Each iteration rescans the registry.
func (r *Registry) FindRoomsContaining(handle string) iter.Seq[string] {
	return func(yield func(string) bool) {
		r.mu.Lock()
		ids := make([]string, 0)
		for id, st := range r.rooms {
			if st.Contains(handle) {
				ids = append(ids, id)
			}
		}
		r.mu.Unlock()

		sort.Strings(ids)
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// Lookup returns a copy of the room for sessionID.
func (r *Registry) Lookup(sessionID string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[sessionID]
	if !ok {
		return Summary{}, false
	}
	return st.summary(), true
}

// Snapshot returns copies of all rooms ordered by session id.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	out := make([]Summary, 0, len(r.rooms))
	for _, st := range r.rooms {
		out = append(out, st.summary())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
