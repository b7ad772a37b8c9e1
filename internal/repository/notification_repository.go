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

const notificationColumns = "id, user_id, channel, notification_type, title, body, recipient, metadata, status, retry_count, error_message, sent_at, read_at, created_at, updated_at"

// NotificationRepository persists notification records.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = models.NotificationQueued
	}
	const query = `INSERT INTO notifications (id, user_id, channel, notification_type, title, body, recipient, metadata, status, retry_count, sent_at, created_at, updated_at)
        VALUES (:id, :user_id, :channel, :notification_type, :title, :body, :recipient, :metadata, :status, :retry_count, :sent_at, :created_at, :updated_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// FindByID returns a notification by identifier.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := database.Executor(ctx, r.db).GetContext(ctx, &n, "SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return &n, nil
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notifications SET status = 'SENT', sent_at = $2, error_message = NULL, updated_at = $2 WHERE id = $1`
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt and bumps retry_count.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	const query = `UPDATE notifications SET status = 'FAILED', retry_count = retry_count + 1, error_message = $2, updated_at = $3 WHERE id = $1`
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, message, at); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// Claim moves a QUEUED or FAILED notification to SENDING and reports whether
// this caller won it. Only the winner may call the provider.
func (r *NotificationRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE notifications SET status = 'SENDING', updated_at = $2 WHERE id = $1 AND status IN ('QUEUED', 'FAILED')`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return affected == 1, nil
}

// Requeue flips a FAILED notification, or a QUEUED/SENDING one untouched
// since staleBefore, back to QUEUED ahead of a retry.
func (r *NotificationRepository) Requeue(ctx context.Context, id string, staleBefore, at time.Time) error {
	const query = `UPDATE notifications SET status = 'QUEUED', updated_at = $3
        WHERE id = $1 AND (status = 'FAILED' OR (status IN ('QUEUED', 'SENDING') AND updated_at < $2))`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, staleBefore, at)
	if err != nil {
		return fmt.Errorf("requeue notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRetryable returns notifications with retries left that are FAILED, or
// QUEUED/SENDING and untouched since staleBefore, oldest first.
func (r *NotificationRepository) ListRetryable(ctx context.Context, maxRetries int, staleBefore time.Time, limit int) ([]models.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications
        WHERE retry_count < $1 AND (status = 'FAILED' OR (status IN ('QUEUED', 'SENDING') AND updated_at < $2))
        ORDER BY updated_at ASC LIMIT %d`, notificationColumns, limit)
	var items []models.Notification
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &items, query, maxRetries, staleBefore); err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}
	return items, nil
}

// ListForUser returns a user's inbox, newest first.
func (r *NotificationRepository) ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	var where whereBuilder
	where.add("user_id = $%d", filter.UserID)
	if filter.UnreadOnly {
		where.conditions = append(where.conditions, "read_at IS NULL")
	}
	if filter.Channel != nil {
		where.add("channel = $%d", *filter.Channel)
	}
	base := "FROM notifications WHERE 1=1" + where.sql()
	exec := database.Executor(ctx, r.db)

	var items []models.Notification
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC %s", notificationColumns, base, pageWindow(filter.Page, filter.PageSize))
	if err := exec.SelectContext(ctx, &items, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := exec.GetContext(ctx, &total, "SELECT COUNT(*) "+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead stamps read_at on one of the user's notifications.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	const query = `UPDATE notifications SET read_at = COALESCE(read_at, $3), updated_at = $3 WHERE id = $1 AND user_id = $2`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead stamps every unread notification of the user.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE notifications SET read_at = $2, updated_at = $2 WHERE user_id = $1 AND read_at IS NULL`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
