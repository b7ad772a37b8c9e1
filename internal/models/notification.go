package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationChannel selects the delivery provider.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "EMAIL"
	ChannelSMS   NotificationChannel = "SMS"
	ChannelPush  NotificationChannel = "PUSH"
	ChannelInApp NotificationChannel = "IN_APP"
)

// Valid reports whether the channel is known.
func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// NotificationType tags what a notification is about.
type NotificationType string

const (
	NotificationLeaveSubmitted  NotificationType = "LEAVE_SUBMITTED"
	NotificationLeaveApproved   NotificationType = "LEAVE_APPROVED"
	NotificationLeaveRejected   NotificationType = "LEAVE_REJECTED"
	NotificationLeaveCancelled  NotificationType = "LEAVE_CANCELLED"
	NotificationLeaveOverdue    NotificationType = "LEAVE_OVERDUE"
	NotificationAttendanceAlert NotificationType = "ATTENDANCE_ALERT"
	NotificationGeneral         NotificationType = "GENERAL"
)

// NotificationStatus tracks delivery.
type NotificationStatus string

const (
	NotificationQueued  NotificationStatus = "QUEUED"
	NotificationSending NotificationStatus = "SENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// MetadataDeviceToken is the metadata key carrying a push device token.
const MetadataDeviceToken = "device_token"

// Notification is a persisted message to one user over one channel.
type Notification struct {
	ID           string              `db:"id" json:"id"`
	UserID       string              `db:"user_id" json:"user_id"`
	Channel      NotificationChannel `db:"channel" json:"channel"`
	Type         NotificationType    `db:"notification_type" json:"type"`
	Title        string              `db:"title" json:"title"`
	Body         string              `db:"body" json:"body"`
	Recipient    string              `db:"recipient" json:"-"`
	Metadata     types.JSONText      `db:"metadata" json:"metadata,omitempty"`
	Status       NotificationStatus  `db:"status" json:"status"`
	RetryCount   int                 `db:"retry_count" json:"retry_count"`
	ErrorMessage *string             `db:"error_message" json:"error_message,omitempty"`
	SentAt       *time.Time          `db:"sent_at" json:"sent_at,omitempty"`
	ReadAt       *time.Time          `db:"read_at" json:"read_at,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

// NotificationFilter scopes a user's inbox.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Channel    *NotificationChannel
	Page       int
	PageSize   int
}

// NotificationRequest asks for a message to be sent to a user.
type NotificationRequest struct {
	UserID   string              `json:"user_id" validate:"required,uuid4"`
	Channel  NotificationChannel `json:"channel" validate:"required,oneof=EMAIL SMS PUSH IN_APP"`
	Type     NotificationType    `json:"type" validate:"omitempty,max=32"`
	Title    string              `json:"title" validate:"required,max=200"`
	Body     string              `json:"body" validate:"required"`
	Metadata map[string]string   `json:"metadata,omitempty"`
}
