package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadimabudeyah-ops/school-platform/pkg/jwt"
)

func newRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := jwt.NewManager("secret", "", time.Hour)
	require.NoError(t, err)
	m := NewAuthMiddleware(tokens)

	r := gin.New()
	r.GET("/me", m.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+":"+GetUsername(c)+":"+GetRole(c))
	})
	r.GET("/teachers", m.RequireAuth(), m.RequireRole(jwt.RoleTeacher, jwt.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, tokens
}

func TestRequireAuth(t *testing.T) {
	r, tokens := newRouter(t)
	token, err := tokens.Generate("7", "sara", jwt.RoleStudent)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "missing header", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, wantCode: http.StatusOK, wantBody: "7:sara:student"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r, tokens := newRouter(t)
	student, err := tokens.Generate("1", "s", jwt.RoleStudent)
	require.NoError(t, err)
	teacher, err := tokens.Generate("2", "t", jwt.RoleTeacher)
	require.NoError(t, err)

	for token, want := range map[string]int{student: http.StatusForbidden, teacher: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/teachers", nil)
		req.Header.Set(AuthHeaderKey, "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}
}
