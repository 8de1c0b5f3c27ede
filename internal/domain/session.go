package domain

import "sync"

// AnonymousName is the chat display name of an unauthenticated connection.
const AnonymousName = "Anonymous"

// Session holds the identity bound to one websocket connection.
type Session struct {
	ID            string
	UserID        string
	Username      string
	Role          string
	Authenticated bool
	mu            sync.RWMutex
}

// NewSession creates an anonymous session for connection id.
func NewSession(id string) *Session {
	return &Session{ID: id}
}

// Authenticate sets the user information after successful authentication.
func (s *Session) Authenticate(userID, username, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = userID
	s.Username = username
	s.Role = role
	s.Authenticated = true
}

// GetUserID returns the user ID.
func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

// DisplayName is the name attached to chat messages from this session.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Authenticated || s.Username == "" {
		return AnonymousName
	}
	return s.Username
}
