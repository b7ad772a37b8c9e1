package models

import "time"

// Hostel is a residence building managed by a warden.
type Hostel struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	Address   string    `db:"address" json:"address"`
	Capacity  int       `db:"capacity" json:"capacity"`
	WardenID  *string   `db:"warden_id" json:"warden_id,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HostelFilter scopes hostel listings.
type HostelFilter struct {
	Search   string
	Active   *bool
	WardenID string
	Page     int
	PageSize int
}
