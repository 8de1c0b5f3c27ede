package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahmadimabudeyah-ops/school-platform/pkg/database"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file::memory:",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err, "open db")
	require.NoError(t, database.AutoMigrate(db, &LiveSessionModel{}), "migrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	svc := NewService(NewGormRepository(db)).(*service)
	svc.bcryptCost = bcrypt.MinCost
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc
}

func TestStartAndEnd(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	s, err := svc.Start(ctx, "t1", "Ms. Salma", &StartRequest{Title: "Algebra"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.IsActive)
	assert.False(t, s.IsPrivate)
	assert.NotEmpty(t, s.StreamURL)

	_, err = svc.Start(ctx, "t1", "Ms. Salma", &StartRequest{Title: "Again"})
	require.ErrorIs(t, err, ErrActiveSessionExists)

	require.ErrorIs(t, svc.End(ctx, "t2", s.ID), ErrNotSessionOwner)
	require.NoError(t, svc.End(ctx, "t1", s.ID))
	require.ErrorIs(t, svc.End(ctx, "t1", s.ID), ErrSessionInactive)

	got, err := svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.EndTime)

	// a new session may start once the previous one ended
	_, err = svc.Start(ctx, "t1", "Ms. Salma", &StartRequest{Title: "Geometry"})
	assert.NoError(t, err)
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	a, err := svc.Start(ctx, "t1", "", &StartRequest{Title: "A"})
	require.NoError(t, err)
	require.NoError(t, svc.End(ctx, "t1", a.ID))
	b, err := svc.Start(ctx, "t1", "", &StartRequest{Title: "B"})
	require.NoError(t, err)
	c, err := svc.Start(ctx, "t2", "", &StartRequest{Title: "C"})
	require.NoError(t, err)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, c.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)

	mine, err := svc.ListByTeacher(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, b.ID, mine[0].ID)
	assert.Equal(t, a.ID, mine[1].ID)
}

func TestCanJoin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	open, err := svc.Start(ctx, "t1", "", &StartRequest{Title: "Open"})
	require.NoError(t, err)
	private, err := svc.Start(ctx, "t2", "", &StartRequest{Title: "Private", Password: "s3cret"})
	require.NoError(t, err)
	require.True(t, private.IsPrivate, "session with password should be private")
	ended, err := svc.Start(ctx, "t3", "", &StartRequest{Title: "Ended"})
	require.NoError(t, err)
	require.NoError(t, svc.End(ctx, "t3", ended.ID))

	tests := []struct {
		name string
		req  JoinRequest
		want error
	}{
		{"open session", JoinRequest{SessionID: open.ID}, nil},
		{"private right password", JoinRequest{SessionID: private.ID, Password: "s3cret"}, nil},
		{"private wrong password", JoinRequest{SessionID: private.ID, Password: "nope"}, ErrWrongPassword},
		{"private no password", JoinRequest{SessionID: private.ID}, ErrWrongPassword},
		{"ended session", JoinRequest{SessionID: ended.ID}, ErrSessionInactive},
		{"unknown id", JoinRequest{SessionID: "999"}, ErrSessionNotFound},
		{"non numeric id", JoinRequest{SessionID: "S1"}, ErrSessionNotFound},
		{"owner broadcasts", JoinRequest{SessionID: open.ID, UserID: "t1", AsTeacher: true}, nil},
		{"owner of private session needs no password", JoinRequest{SessionID: private.ID, UserID: "t2", AsTeacher: true}, nil},
		{"other teacher refused", JoinRequest{SessionID: open.ID, UserID: "t2", AsTeacher: true}, ErrNotSessionOwner},
		{"anonymous teacher refused", JoinRequest{SessionID: open.ID, AsTeacher: true}, ErrNotSessionOwner},
		{"right password does not make a broadcaster", JoinRequest{SessionID: private.ID, UserID: "t9", AsTeacher: true, Password: "s3cret"}, ErrNotSessionOwner},
		{"owner of ended session refused", JoinRequest{SessionID: ended.ID, UserID: "t3", AsTeacher: true}, ErrSessionInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CanJoin(ctx, tt.req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
