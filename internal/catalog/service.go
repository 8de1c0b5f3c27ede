package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrActiveSessionExists = errors.New("teacher already has an active live session")
	ErrNotSessionOwner     = errors.New("you are not the owner of this live session")
	ErrSessionInactive     = errors.New("live session is not active")
	ErrWrongPassword       = errors.New("wrong live session password")
)

// Service defines the live session catalog operations.
type Service interface {
	Start(ctx context.Context, teacherID, teacherName string, req *StartRequest) (*LiveSession, error)
	End(ctx context.Context, teacherID, sessionID string) error
	Get(ctx context.Context, sessionID string) (*LiveSession, error)
	ListActive(ctx context.Context) ([]LiveSession, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]LiveSession, error)
	// CanJoin reports nil when the session exists and is active, and the
	// caller is its owner (teachers) or knows the password of a private
	// session (students).
	CanJoin(ctx context.Context, req JoinRequest) error
}

// JoinRequest describes a websocket join checked against the catalog.
type JoinRequest struct {
	SessionID string
	UserID    string
	AsTeacher bool
	Password  string
}

type service struct {
	repo       Repository
	now        func() time.Time
	bcryptCost int
}

// NewService creates a new catalog service.
func NewService(repo Repository) Service {
	return &service{
		repo:       repo,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

func (s *service) Start(ctx context.Context, teacherID, teacherName string, req *StartRequest) (*LiveSession, error) {
	if _, err := s.repo.FindActiveByTeacher(ctx, teacherID); err == nil {
		return nil, ErrActiveSessionExists
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	m := &LiveSessionModel{
		TeacherID:   teacherID,
		TeacherName: teacherName,
		Title:       req.Title,
		Description: req.Description,
		SubjectID:   req.SubjectID,
		IsActive:    true,
		StreamURL:   fmt.Sprintf("teacher_%s_%d", teacherID, now.Unix()),
		StartTime:   now,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash session password: %w", err)
		}
		m.PasswordHash = string(hash)
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (s *service) End(ctx context.Context, teacherID, sessionID string) error {
	m, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if m.TeacherID != teacherID {
		return ErrNotSessionOwner
	}
	if !m.IsActive {
		return ErrSessionInactive
	}
	return s.repo.End(ctx, m.ID, s.now().UTC())
}

func (s *service) Get(ctx context.Context, sessionID string) (*LiveSession, error) {
	m, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (s *service) ListActive(ctx context.Context) ([]LiveSession, error) {
	models, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return toDomain(models), nil
}

func (s *service) ListByTeacher(ctx context.Context, teacherID string) ([]LiveSession, error) {
	models, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return toDomain(models), nil
}

func (s *service) CanJoin(ctx context.Context, req JoinRequest) error {
	m, err := s.lookup(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if !m.IsActive {
		return ErrSessionInactive
	}
	if req.AsTeacher {
		// only the owner may broadcast; the owner needs no password
		if req.UserID == "" || req.UserID != m.TeacherID {
			return ErrNotSessionOwner
		}
		return nil
	}
	if m.PasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(req.Password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

func (s *service) lookup(ctx context.Context, sessionID string) (*LiveSessionModel, error) {
	id, ok := parseID(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.repo.GetByID(ctx, id)
}

func toDomain(models []LiveSessionModel) []LiveSession {
	out := make([]LiveSession, len(models))
	for i := range models {
		out[i] = *models[i].ToDomain()
	}
	return out
}
