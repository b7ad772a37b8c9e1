package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/handler"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/internal/service"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type stubTokens struct{}

func (stubTokens) ValidateAccessToken(token string) (*models.JWTClaims, error) {
	if token != "student-token" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}, nil
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var engine *gin.Engine
	require.NotPanics(t, func() {
		engine = New(Options{APIPrefix: "/api/v1", EnableDocs: true}, Dependencies{
			Logger:  zap.NewNop(),
			Metrics: service.NewMetricsService(),
			Tokens:  stubTokens{},
			Handlers: Handlers{
				Auth:          handler.NewAuthHandler(nil),
				Users:         handler.NewUserHandler(nil),
				Hostels:       handler.NewHostelHandler(nil),
				Students:      handler.NewStudentHandler(nil),
				Attendance:    handler.NewAttendanceHandler(nil, nil),
				Analytics:     handler.NewAnalyticsHandler(nil, nil),
				Leaves:        handler.NewLeaveHandler(nil),
				Mess:          handler.NewMessHandler(nil),
				Notifications: handler.NewNotificationHandler(nil),
				Ops:           handler.NewMetricsHandler(service.NewMetricsService(), nil),
			},
		})
	})
	return engine
}

func do(engine *gin.Engine, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouterHealth(t *testing.T) {
	engine := newTestEngine(t)

	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/ready", ""))
	assert.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/metrics", ""))
}

func TestRouterRequiresToken(t *testing.T) {
	engine := newTestEngine(t)

	for _, path := range []string{"/api/v1/students/me", "/api/v1/leaves", "/api/v1/notifications/me", "/api/v1/auth/me"} {
		assert.Equal(t, http.StatusUnauthorized, do(engine, http.MethodGet, path, ""), path)
	}
}

func TestRouterEnforcesRoles(t *testing.T) {
	engine := newTestEngine(t)

	assert.Equal(t, http.StatusForbidden, do(engine, http.MethodGet, "/api/v1/attendance", "student-token"))
	assert.Equal(t, http.StatusForbidden, do(engine, http.MethodGet, "/api/v1/users", "student-token"))
	assert.Equal(t, http.StatusForbidden, do(engine, http.MethodGet, "/api/v1/analytics/system", "student-token"))
	assert.Equal(t, http.StatusForbidden, do(engine, http.MethodPost, "/api/v1/notifications", "student-token"))
}
