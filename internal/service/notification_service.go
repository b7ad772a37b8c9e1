package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/jobs"
	"github.com/noah-isme/hostel-api/pkg/notify"
)

// JobDeliverNotification is the job type handled by NotificationService.HandleJob.
const JobDeliverNotification = "notification:deliver"

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, message string, at time.Time) error
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Requeue(ctx context.Context, id string, staleBefore, at time.Time) error
	ListRetryable(ctx context.Context, maxRetries int, staleBefore time.Time, limit int) ([]models.Notification, error)
	ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

type recipientReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// maxErrorMessageRunes bounds the provider error kept on a failed row.
const maxErrorMessageRunes = 500

// NotificationConfig bounds delivery retries.
type NotificationConfig struct {
	MaxRetries int
	// StaleAfter is how long a row may stay QUEUED or SENDING before the
	// retry sweep treats its job as lost.
	StaleAfter time.Duration
}

// DeliveryPayload is the body of a delivery job.
type DeliveryPayload struct {
	NotificationID string `json:"notification_id"`
}

// NotificationService persists notifications and hands external channels to
// the job queue for delivery.
type NotificationService struct {
	repo       notificationRepository
	users      recipientReader
	queue      jobs.Dispatcher
	providers  map[models.NotificationChannel]notify.Provider
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	maxRetries int
	staleAfter time.Duration
	now        func() time.Time
}

// NewNotificationService constructs a NotificationService. Channels missing
// from providers are delivered to the log.
func NewNotificationService(repo notificationRepository, users recipientReader, queue jobs.Dispatcher, providers map[models.NotificationChannel]notify.Provider, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config NotificationConfig) *NotificationService {
	logger = defaultLogger(logger)
	routed := make(map[models.NotificationChannel]notify.Provider, 3)
	for _, channel := range []models.NotificationChannel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush} {
		if p, ok := providers[channel]; ok && p != nil {
			routed[channel] = p
			continue
		}
		routed[channel] = notify.NewLogProvider(string(channel), logger)
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 15 * time.Minute
	}
	return &NotificationService{
		repo:       repo,
		users:      users,
		queue:      queue,
		providers:  routed,
		metrics:    metrics,
		validator:  defaultValidator(validate),
		logger:     logger,
		maxRetries: config.MaxRetries,
		staleAfter: config.StaleAfter,
		now:        time.Now,
	}
}

// Send records a notification. In-app messages are delivered on write; the
// other channels are queued.
func (s *NotificationService) Send(ctx context.Context, req models.NotificationRequest) (*models.Notification, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid notification")
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, lookupError(err, "recipient not found", "failed to load recipient")
	}
	recipient, err := resolveRecipient(user, req)
	if err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = models.NotificationGeneral
	}
	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, validationError(err, "invalid notification metadata")
	}

	n := &models.Notification{
		UserID:    req.UserID,
		Channel:   req.Channel,
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		Recipient: recipient,
		Metadata:  metadata,
		Status:    models.NotificationQueued,
	}
	if req.Channel == models.ChannelInApp {
		sentAt := s.now().UTC()
		n.Status = models.NotificationSent
		n.SentAt = &sentAt
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, appErrors.Internal(err, "failed to save notification")
	}
	if req.Channel == models.ChannelInApp {
		s.metrics.RecordNotification(n.Channel, n.Status)
		return n, nil
	}

	if err := s.enqueue(ctx, n.ID); err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("notification_id", n.ID), zap.Error(err))
		if markErr := s.repo.MarkFailed(ctx, n.ID, "enqueue: "+err.Error(), s.now().UTC()); markErr != nil {
			s.logger.Error("failed to mark notification failed", zap.String("notification_id", n.ID), zap.Error(markErr))
		}
		n.Status = models.NotificationFailed
		n.RetryCount++
	}
	return n, nil
}

// HandleJob is the queue handler for JobDeliverNotification.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	var payload DeliveryPayload
	if err := job.Decode(&payload); err != nil {
		s.logger.Error("dropping malformed delivery job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return s.Deliver(ctx, payload.NotificationID)
}

// Deliver claims a queued or failed notification and routes it to its
// channel's provider. Jobs for rows already sent, in flight elsewhere or gone
// are dropped. A returned error asks the queue to retry.
func (s *NotificationService) Deliver(ctx context.Context, id string) error {
	claimed, err := s.repo.Claim(ctx, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("claim notification %s: %w", id, err)
	}
	if !claimed {
		s.logger.Debug("skipping notification not awaiting delivery", zap.String("notification_id", id))
		return nil
	}
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("notification vanished before delivery", zap.String("notification_id", id))
			return nil
		}
		return fmt.Errorf("load notification %s: %w", id, err)
	}
	provider, ok := s.providers[n.Channel]
	if !ok {
		s.fail(ctx, n, fmt.Errorf("no provider for channel %s", n.Channel))
		return nil
	}

	var data map[string]string
	if len(n.Metadata) > 0 {
		if err := n.Metadata.Unmarshal(&data); err != nil {
			s.logger.Warn("ignoring unreadable notification metadata", zap.String("notification_id", id), zap.Error(err))
		}
	}
	start := time.Now()
	err = provider.Send(ctx, notify.Message{Recipient: n.Recipient, Subject: n.Title, Body: n.Body, Data: data})
	if err != nil {
		s.fail(ctx, n, err)
		var providerErr *notify.ProviderError
		if errors.Is(err, notify.ErrNoRecipient) || (errors.As(err, &providerErr) && !providerErr.Retryable()) {
			return nil
		}
		return fmt.Errorf("deliver notification %s via %s: %w", id, provider.Name(), err)
	}

	if err := s.repo.MarkSent(ctx, n.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark notification %s sent: %w", id, err)
	}
	s.metrics.RecordNotification(n.Channel, models.NotificationSent)
	s.logger.Info("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("provider", provider.Name()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ListForUser pages through a user's notifications, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	page, pageSize = models.NormalizePage(page, pageSize)
	items, total, err := s.repo.ListForUser(ctx, models.NotificationFilter{UserID: userID, UnreadOnly: unreadOnly, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, models.NewPagination(page, pageSize, total), nil
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.repo.MarkRead(ctx, userID, id, s.now().UTC()); err != nil {
		return lookupError(err, "notification not found", "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to mark notifications read")
	}
	return count, nil
}

// RetryFailed re-enqueues up to limit notifications that have retries left:
// FAILED rows, and QUEUED or SENDING rows whose job was lost (untouched for
// longer than the stale cutoff).
func (s *NotificationService) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now().UTC()
	staleBefore := now.Add(-s.staleAfter)
	pending, err := s.repo.ListRetryable(ctx, s.maxRetries, staleBefore, limit)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to list retryable notifications")
	}
	requeued := 0
	for _, n := range pending {
		if err := s.repo.Requeue(ctx, n.ID, staleBefore, now); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("failed to requeue notification", zap.String("notification_id", n.ID), zap.Error(err))
			}
			continue
		}
		if err := s.enqueue(ctx, n.ID); err != nil {
			s.logger.Warn("failed to enqueue notification retry", zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Info("failed notifications requeued", zap.Int("count", requeued))
	}
	return requeued, nil
}

func (s *NotificationService) enqueue(ctx context.Context, id string) error {
	if s.queue == nil {
		return errors.New("no job queue configured")
	}
	return s.queue.Dispatch(ctx, jobs.Job{
		ID:       id,
		Type:     JobDeliverNotification,
		Payload:  DeliveryPayload{NotificationID: id},
		Enqueued: s.now().UTC(),
	})
}

func (s *NotificationService) fail(ctx context.Context, n *models.Notification, cause error) {
	s.metrics.RecordNotification(n.Channel, models.NotificationFailed)
	message := truncateRunes(cause.Error(), maxErrorMessageRunes)
	if err := s.repo.MarkFailed(ctx, n.ID, message, s.now().UTC()); err != nil {
		s.logger.Error("failed to mark notification failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
	s.logger.Warn("notification delivery failed",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.Int("retry_count", n.RetryCount+1),
		zap.Error(cause),
	)
}

// truncateRunes cuts s to at most limit characters without splitting a
// multi-byte sequence, and replaces any invalid bytes.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// resolveRecipient picks the destination address for the channel.
func resolveRecipient(user *models.User, req models.NotificationRequest) (string, error) {
	switch req.Channel {
	case models.ChannelEmail:
		return user.Email, nil
	case models.ChannelSMS:
		if user.Phone == nil || *user.Phone == "" {
			return "", validationFailed("recipient has no phone number")
		}
		return *user.Phone, nil
	case models.ChannelPush:
		token := req.Metadata[models.MetadataDeviceToken]
		if token == "" {
			return "", validationFailed("push notifications need a device_token")
		}
		return token, nil
	default:
		return user.ID, nil
	}
}
