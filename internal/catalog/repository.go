package catalog

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
)

var (
	ErrSessionNotFound = errors.New("live session not found")
)

// Repository defines the interface for live session persistence.
type Repository interface {
	Create(ctx context.Context, m *LiveSessionModel) error
	GetByID(ctx context.Context, id uint) (*LiveSessionModel, error)
	FindActiveByTeacher(ctx context.Context, teacherID string) (*LiveSessionModel, error)
	ListActive(ctx context.Context) ([]LiveSessionModel, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]LiveSessionModel, error)
	End(ctx context.Context, id uint, at time.Time) error
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-based live session repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Create inserts a new live session.
func (r *GormRepository) Create(ctx context.Context, m *LiveSessionModel) error {
	l := log.Ctx(ctx)

	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		l.Error().Err(err).Msg("failed to create live session in db")
		return err
	}
	l.Debug().Uint(log.FieldSessionID, m.ID).Msg("live session created in db")
	return nil
}

// GetByID retrieves a live session by ID.
func (r *GormRepository) GetByID(ctx context.Context, id uint) (*LiveSessionModel, error) {
	l := log.Ctx(ctx)

	var model LiveSessionModel
	result := r.db.WithContext(ctx).First(&model, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		l.Error().Err(result.Error).Uint(log.FieldSessionID, id).Msg("failed to get live session by id")
		return nil, result.Error
	}
	return &model, nil
}

// FindActiveByTeacher returns the teacher's active session, or ErrSessionNotFound.
func (r *GormRepository) FindActiveByTeacher(ctx context.Context, teacherID string) (*LiveSessionModel, error) {
	l := log.Ctx(ctx)

	var model LiveSessionModel
	result := r.db.WithContext(ctx).
		Where("teacher_id = ? AND is_active = ?", teacherID, true).
		Order("start_time DESC").
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldUserID, teacherID).Msg("failed to find active live session")
		return nil, result.Error
	}
	return &model, nil
}

// ListActive retrieves all active sessions, newest first.
func (r *GormRepository) ListActive(ctx context.Context) ([]LiveSessionModel, error) {
	l := log.Ctx(ctx)

	var models []LiveSessionModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("start_time DESC").
		Find(&models).Error; err != nil {
		l.Error().Err(err).Msg("failed to list active live sessions")
		return nil, err
	}
	return models, nil
}

// ListByTeacher retrieves every session a teacher started, newest first.
func (r *GormRepository) ListByTeacher(ctx context.Context, teacherID string) ([]LiveSessionModel, error) {
	l := log.Ctx(ctx)

	var models []LiveSessionModel
	if err := r.db.WithContext(ctx).
		Where("teacher_id = ?", teacherID).
		Order("start_time DESC").
		Find(&models).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, teacherID).Msg("failed to list teacher live sessions")
		return nil, err
	}
	return models, nil
}

// End marks an active session as finished.
func (r *GormRepository) End(ctx context.Context, id uint, at time.Time) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&LiveSessionModel{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"end_time":  at,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Uint(log.FieldSessionID, id).Msg("failed to end live session in db")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	l.Debug().Uint(log.FieldSessionID, id).Msg("live session ended in db")
	return nil
}
