package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type sessionRepository interface {
	Create(ctx context.Context, session *models.UserSession) error
	FindByID(ctx context.Context, id string) (*models.UserSession, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.UserSession, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	Rotate(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID, exceptID string, at time.Time) (int64, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Secret             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	SingleSession      bool
	SessionRetention   time.Duration
}

// AuthService provides authentication use cases.
type AuthService struct {
	users     authUserRepository
	sessions  sessionRepository
	audit     auditWriter
	tx        database.Transactor
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, sessions sessionRepository, audit auditWriter, tx database.Transactor, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	return &AuthService{
		users:     users,
		sessions:  sessions,
		audit:     audit,
		tx:        tx,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates a user, opens a session and returns a token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	now := s.now()
	var pair *models.TokenPair
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		if s.config.SingleSession {
			if _, err := s.sessions.RevokeAllForUser(ctx, user.ID, "", now); err != nil {
				return appErrors.Internal(err, "failed to revoke previous sessions")
			}
		}
		var err error
		pair, err = s.issue(ctx, user, req.IP, req.UserAgent, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	actor := models.Actor{UserID: user.ID, Role: user.Role, IP: req.IP, UserAgent: req.UserAgent}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionLogin, "auth", pair.SessionID, nil, map[string]string{"status": "success"})

	return &models.LoginResponse{TokenPair: *pair, User: userInfo(user)}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented session is
// revoked and replaced, so each refresh token works once.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid refresh payload")
	}

	claims, err := s.parseToken(req.RefreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session not found")
		}
		return nil, appErrors.Internal(err, "failed to load session")
	}

	now := s.now()
	if !session.Active(now) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session expired or revoked")
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(req.RefreshToken)), []byte(session.RefreshTokenHash)) != 1 {
		if err := s.sessions.Revoke(ctx, session.ID, now); err != nil && !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to revoke session after token mismatch", zap.String("session_id", session.ID), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token does not match session")
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	var pair *models.TokenPair
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		if err := s.sessions.Rotate(ctx, session.ID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token already used")
			}
			return appErrors.Internal(err, "failed to revoke session")
		}
		var err error
		pair, err = s.issue(ctx, user, req.IP, req.UserAgent, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	actor := models.Actor{UserID: user.ID, Role: user.Role, IP: req.IP, UserAgent: req.UserAgent}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionTokenRefresh, "auth", pair.SessionID, map[string]string{"session_id": session.ID}, nil)
	return pair, nil
}

// Logout revokes the session owning the refresh token.
func (s *AuthService) Logout(ctx context.Context, actor models.Actor, req models.LogoutRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid logout payload")
	}
	claims, err := s.parseToken(req.RefreshToken, models.TokenTypeRefresh)
	if err != nil {
		return err
	}
	return s.RevokeSession(ctx, actor, claims.ID)
}

// LogoutAll revokes every session of the actor.
func (s *AuthService) LogoutAll(ctx context.Context, actor models.Actor) (int64, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, actor.UserID, "", s.now())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to revoke sessions")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionLogoutAll, "auth", actor.UserID, nil, map[string]int64{"revoked": count})
	return count, nil
}

// RevokeSession revokes one of the actor's sessions. Revoking an already
// revoked session succeeds.
func (s *AuthService) RevokeSession(ctx context.Context, actor models.Actor, sessionID string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return lookupError(err, "session not found", "failed to load session")
	}
	if session.UserID != actor.UserID {
		return forbidden("session does not belong to user")
	}
	if err := s.sessions.Revoke(ctx, session.ID, s.now()); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to revoke session")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionLogout, "auth", session.ID, nil, map[string]string{"status": "logout"})
	return nil
}

// ListSessions returns the user's live sessions.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.UserSession, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list sessions")
	}
	return sessions, nil
}

// ChangePassword replaces the actor's password and signs out every session.
// The new password may not equal the current one.
func (s *AuthService) ChangePassword(ctx context.Context, actor models.Actor, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		return lookupError(err, "user not found", "failed to load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return forbidden("old password does not match")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.NewPassword)) == nil {
		return validationFailed("new password must differ from the current password")
	}

	newHash, err := hashPassword(req.NewPassword)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}

	now := s.now()
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, user.ID, newHash, now); err != nil {
			return appErrors.Internal(err, "failed to update password")
		}
		if _, err := s.sessions.RevokeAllForUser(ctx, user.ID, "", now); err != nil {
			return appErrors.Internal(err, "failed to revoke sessions")
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionPasswordChange, "auth", user.ID, nil, map[string]string{"status": "changed"})
	return nil
}

// ValidateAccessToken parses an access token and returns its claims.
// Refresh tokens are rejected.
func (s *AuthService) ValidateAccessToken(token string) (*models.JWTClaims, error) {
	return s.parseToken(token, models.TokenTypeAccess)
}

// CleanupSessions deletes sessions that expired or were revoked longer than
// the retention window ago.
func (s *AuthService) CleanupSessions(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.SessionRetention)
	count, err := s.sessions.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to clean up sessions")
	}
	if count > 0 {
		s.logger.Info("stale sessions removed", zap.Int64("count", count), zap.Time("cutoff", cutoff))
	}
	return count, nil
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	info := userInfo(user)
	return &info, nil
}

func (s *AuthService) issue(ctx context.Context, user *models.User, ip, userAgent string, now time.Time) (*models.TokenPair, error) {
	sessionID := uuid.NewString()
	accessToken, err := s.sign(user, models.TokenTypeAccess, uuid.NewString(), now, now.Add(s.config.AccessTokenExpiry))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}
	refreshExpiry := now.Add(s.config.RefreshTokenExpiry)
	refreshToken, err := s.sign(user, models.TokenTypeRefresh, sessionID, now, refreshExpiry)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}

	session := &models.UserSession{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: hashToken(refreshToken),
		ExpiresAt:        refreshExpiry,
		LastActivityAt:   now,
		IPAddress:        ip,
		UserAgent:        userAgent,
		CreatedAt:        now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Internal(err, "failed to persist session")
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.config.AccessTokenExpiry.Seconds()),
		RefreshExpiresAt: refreshExpiry,
		SessionID:        sessionID,
		IssuedAt:         now,
	}, nil
}

func (s *AuthService) sign(user *models.User, tokenType models.TokenType, id string, issuedAt, expiresAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		UserID:    user.ID,
		Role:      user.Role,
		Email:     user.Email,
		FullName:  user.FullName,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
}

func (s *AuthService) parseToken(raw string, want models.TokenType) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &models.JWTClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.TokenType != want {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "wrong token type: "+string(want)+" token required")
	}
	if want == models.TokenTypeRefresh && claims.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token missing session")
	}
	return claims, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func userInfo(user *models.User) models.UserInfo {
	return models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}
}
