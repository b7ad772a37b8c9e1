package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/internal/service"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

const (
	testSecret = "handler-test-secret"
	testIssuer = "hostel-api"
)

type authServiceMock struct {
	loginReq   models.LoginRequest
	loginErr   error
	revokedID  string
	revokeErr  error
	sessionsOf string
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{TokenPair: models.TokenPair{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}}, nil
}

func (m *authServiceMock) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	return &models.TokenPair{AccessToken: "access-2"}, nil
}

func (m *authServiceMock) Logout(ctx context.Context, actor models.Actor, req models.LogoutRequest) error {
	return nil
}

func (m *authServiceMock) LogoutAll(ctx context.Context, actor models.Actor) (int64, error) {
	return 2, nil
}

func (m *authServiceMock) RevokeSession(ctx context.Context, actor models.Actor, sessionID string) error {
	m.revokedID = sessionID
	return m.revokeErr
}

func (m *authServiceMock) ListSessions(ctx context.Context, userID string) ([]models.UserSession, error) {
	m.sessionsOf = userID
	return []models.UserSession{{ID: "s1", UserID: userID}}, nil
}

func (m *authServiceMock) ChangePassword(ctx context.Context, actor models.Actor, req models.ChangePasswordRequest) error {
	return nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID}, nil
}

func signToken(t *testing.T, tokenType models.TokenType, id string, expiresAt time.Time, secret string) string {
	t.Helper()
	issued := expiresAt.Add(-time.Hour)
	claims := &models.JWTClaims{
		UserID:    "user-1",
		Role:      models.RoleStudent,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    testIssuer,
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthHandlerRefreshRejectsBadTokens(t *testing.T) {
	// token checks fail before any repository is touched
	svc := service.NewAuthService(nil, nil, nil, nil, nil, zap.NewNop(), service.AuthConfig{
		Secret:             testSecret,
		Issuer:             testIssuer,
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
	})
	handler := NewAuthHandler(svc)
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name        string
		body        string
		wantCode    int
		wantError   string
		wantMessage string
	}{
		{
			name:        "expired refresh token",
			body:        `{"refresh_token":"` + signToken(t, models.TokenTypeRefresh, "s1", time.Now().Add(-time.Minute), testSecret) + `"}`,
			wantCode:    http.StatusUnauthorized,
			wantError:   appErrors.ErrUnauthorized.Code,
			wantMessage: "token expired",
		},
		{
			name:        "access token presented",
			body:        `{"refresh_token":"` + signToken(t, models.TokenTypeAccess, "a1", future, testSecret) + `"}`,
			wantCode:    http.StatusUnauthorized,
			wantError:   appErrors.ErrUnauthorized.Code,
			wantMessage: "wrong token type",
		},
		{
			name:        "foreign signature",
			body:        `{"refresh_token":"` + signToken(t, models.TokenTypeRefresh, "s1", future, "another-secret") + `"}`,
			wantCode:    http.StatusUnauthorized,
			wantError:   appErrors.ErrUnauthorized.Code,
			wantMessage: "invalid token",
		},
		{
			name:        "refresh token without session",
			body:        `{"refresh_token":"` + signToken(t, models.TokenTypeRefresh, "", future, testSecret) + `"}`,
			wantCode:    http.StatusUnauthorized,
			wantError:   appErrors.ErrUnauthorized.Code,
			wantMessage: "missing session",
		},
		{name: "garbage", body: `{"refresh_token":"not-a-jwt"}`, wantCode: http.StatusUnauthorized, wantError: appErrors.ErrUnauthorized.Code},
		{name: "missing token", body: `{}`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{name: "malformed json", body: `{"refresh_token":`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = jsonRequest(http.MethodPost, "/auth/refresh", tc.body)

			handler.Refresh(c)
			require.Equal(t, tc.wantCode, w.Code)
			env := decodeEnvelope(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.wantError, env.Error.Code)
			if tc.wantMessage != "" {
				assert.Contains(t, env.Error.Message, tc.wantMessage)
			}
		})
	}
}

func TestAuthHandlerLoginPassesClientInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", `{"email":"ayu@hostel.test","password":"secret123"}`)
	c.Request.Header.Set("User-Agent", "hostel-app/1.0")

	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ayu@hostel.test", mockSvc.loginReq.Email)
	assert.Equal(t, "hostel-app/1.0", mockSvc.loginReq.UserAgent)
	assert.NotEmpty(t, mockSvc.loginReq.IP)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&authServiceMock{loginErr: appErrors.ErrInvalidCredentials})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/auth/login", `{"email":"ayu@hostel.test","password":"wrong"}`)

	handler.Login(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, decodeEnvelope(t, w).Error.Code)
}

func TestAuthHandlerSessionsUseClaims(t *testing.T) {
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.Sessions(contextAs(w, httptest.NewRequest(http.MethodGet, "/auth/sessions", nil), "user-9", models.RoleStudent))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-9", mockSvc.sessionsOf)

	w = httptest.NewRecorder()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	handler.Sessions(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerRevokeSession(t *testing.T) {
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodDelete, "/auth/sessions/s1", nil), "user-1", models.RoleStudent)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.RevokeSession(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "s1", mockSvc.revokedID)

	mockSvc.revokeErr = appErrors.Clone(appErrors.ErrNotFound, "session not found")
	w = httptest.NewRecorder()
	c = contextAs(w, httptest.NewRequest(http.MethodDelete, "/auth/sessions/s2", nil), "user-1", models.RoleStudent)
	c.Params = gin.Params{{Key: "id", Value: "s2"}}
	handler.RevokeSession(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
