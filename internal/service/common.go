package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

func defaultValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return dto.NewValidator()
	}
	return v
}

func defaultLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func validationFailed(message string) error {
	return appErrors.Clone(appErrors.ErrValidation, message)
}

func businessRule(message string) error {
	return appErrors.Clone(appErrors.ErrBusinessRule, message)
}

func conflict(message string) error {
	return appErrors.Clone(appErrors.ErrConflict, message)
}

func forbidden(message string) error {
	return appErrors.Clone(appErrors.ErrForbidden, message)
}

// lookupError maps sql.ErrNoRows to a NotFound error and anything else to an
// internal error.
func lookupError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Internal(err, internal)
}

func parseDate(raw, field string) (time.Time, error) {
	t, err := dto.ParseDate(raw)
	if err != nil {
		return time.Time{}, validationError(err, "invalid "+field)
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// windowRange resolves an optional [from, to] day range. A missing end is
// today and a missing start is the window ending at the end day.
func windowRange(now time.Time, window time.Duration, from, to *time.Time) (time.Time, time.Time, error) {
	end := truncateDay(now)
	if to != nil {
		end = truncateDay(*to)
	}
	start := end.Add(-window).AddDate(0, 0, 1)
	if from != nil {
		start = truncateDay(*from)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, validationFailed("to must not be before from")
	}
	return start, end, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func auditPayload(v interface{}) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// recordAudit stores an audit entry; failures are logged and swallowed.
func recordAudit(ctx context.Context, audit auditWriter, logger *zap.Logger, actor models.Actor, action, resource, resourceID string, oldValues, newValues interface{}) {
	if audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     strPtr(actor.UserID),
		Action:     action,
		Resource:   resource,
		ResourceID: strPtr(resourceID),
		OldValues:  auditPayload(oldValues),
		NewValues:  auditPayload(newValues),
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
