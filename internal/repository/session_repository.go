package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
)

const sessionColumns = "id, user_id, refresh_token_hash, expires_at, revoked, revoked_at, last_activity_at, ip_address, user_agent, created_at"

// SessionRepository persists refresh-token sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.UserSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = now
	}
	const query = `INSERT INTO user_sessions (id, user_id, refresh_token_hash, expires_at, revoked, revoked_at, last_activity_at, ip_address, user_agent, created_at) VALUES (:id, :user_id, :refresh_token_hash, :expires_at, :revoked, :revoked_at, :last_activity_at, :ip_address, :user_agent, :created_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.UserSession, error) {
	query := "SELECT " + sessionColumns + " FROM user_sessions WHERE id = $1"
	var session models.UserSession
	if err := database.Executor(ctx, r.db).GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// ListActiveByUser returns the user's unrevoked, unexpired sessions, newest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.UserSession, error) {
	query := "SELECT " + sessionColumns + " FROM user_sessions WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2 ORDER BY last_activity_at DESC"
	var sessions []models.UserSession
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Revoke marks one session revoked.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE user_sessions SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Rotate retires a session on refresh, stamping its last activity at the
// moment it was exchanged.
func (r *SessionRepository) Rotate(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE user_sessions SET revoked = TRUE, revoked_at = $2, last_activity_at = $2 WHERE id = $1 AND revoked = FALSE`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RevokeAllForUser revokes every live session of a user and returns how many
// were affected. exceptID, when set, is left untouched.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, exceptID string, at time.Time) (int64, error) {
	query := `UPDATE user_sessions SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	args := []interface{}{userID, at}
	if exceptID != "" {
		query += " AND id <> $3"
		args = append(args, exceptID)
	}
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// DeleteStale removes sessions that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM user_sessions WHERE expires_at < $1 OR (revoked = TRUE AND revoked_at < $1)`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
