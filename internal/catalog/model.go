package catalog

import (
	"strconv"
	"time"
)

// LiveSessionModel is the GORM model for the live_sessions table.
type LiveSessionModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	TeacherID    string `gorm:"type:varchar(36);index;not null"`
	TeacherName  string `gorm:"type:varchar(50)"`
	Title        string `gorm:"type:varchar(200);not null"`
	Description  string `gorm:"type:text"`
	SubjectID    *uint  `gorm:"index"`
	IsActive     bool   `gorm:"index;not null;default:true"`
	StreamURL    string `gorm:"type:varchar(500)"`
	PasswordHash string `gorm:"type:varchar(128)"`
	StartTime    time.Time
	EndTime      *time.Time
}

// TableName specifies the table name for LiveSessionModel.
func (LiveSessionModel) TableName() string {
	return "live_sessions"
}

// LiveSession is a scheduled or running class broadcast.
type LiveSession struct {
	ID          string     `json:"id"`
	TeacherID   string     `json:"teacher_id"`
	TeacherName string     `json:"teacher_name,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	SubjectID   *uint      `json:"subject_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsPrivate   bool       `json:"is_private"`
	StreamURL   string     `json:"stream_url,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`

	passwordHash string
}

// ToDomain converts LiveSessionModel to a LiveSession.
func (m *LiveSessionModel) ToDomain() *LiveSession {
	return &LiveSession{
		ID:           strconv.FormatUint(uint64(m.ID), 10),
		TeacherID:    m.TeacherID,
		TeacherName:  m.TeacherName,
		Title:        m.Title,
		Description:  m.Description,
		SubjectID:    m.SubjectID,
		IsActive:     m.IsActive,
		IsPrivate:    m.PasswordHash != "",
		StreamURL:    m.StreamURL,
		StartTime:    m.StartTime,
		EndTime:      m.EndTime,
		passwordHash: m.PasswordHash,
	}
}

// StartRequest represents a start live session request.
type StartRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200"`
	Description string `json:"description"`
	SubjectID   *uint  `json:"subject_id"`
	Password    string `json:"password"`
}

// parseID converts an external session id to the table key.
func parseID(id string) (uint, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
