package models

import "time"

// UserSession is a refresh-token backed login session.
type UserSession struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"-"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	Revoked          bool       `db:"revoked" json:"revoked"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	LastActivityAt   time.Time  `db:"last_activity_at" json:"last_activity_at"`
	IPAddress        string     `db:"ip_address" json:"ip_address"`
	UserAgent        string     `db:"user_agent" json:"user_agent"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// Active reports whether the session can still be refreshed at now.
func (s *UserSession) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
