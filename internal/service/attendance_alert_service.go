package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type attendanceAlertRepository interface {
	Create(ctx context.Context, alert *models.AttendanceAlert) error
	FindByID(ctx context.Context, id string) (*models.AttendanceAlert, error)
	HasUnresolved(ctx context.Context, studentID string, alertType models.AlertType) (bool, error)
	List(ctx context.Context, filter models.AttendanceAlertFilter) ([]models.AttendanceAlert, int, error)
	Transition(ctx context.Context, id string, from, to models.AlertStatus, actorID string, note *string, at time.Time) error
}

type attendanceStatsReader interface {
	Summary(ctx context.Context, studentID string, from, to time.Time) (*models.AttendanceSummary, error)
	RecentStatuses(ctx context.Context, studentID string, asOf time.Time, limit int) ([]models.AttendanceStatus, error)
}

type hostelStudentLister interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ListActiveIDsByHostel(ctx context.Context, hostelID string) ([]string, error)
}

type activeHostelLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// AttendanceAlertService raises, evaluates and closes attendance alerts.
type AttendanceAlertService struct {
	alerts    attendanceAlertRepository
	stats     attendanceStatsReader
	policies  attendancePolicyRepository
	students  hostelStudentLister
	hostels   activeHostelLister
	notifier  notificationSender
	validator *validator.Validate
	logger    *zap.Logger
	window    time.Duration
	now       func() time.Time
}

// NewAttendanceAlertService constructs the alert service. window is the
// trailing period evaluated for percentage and lateness rules.
func NewAttendanceAlertService(alerts attendanceAlertRepository, stats attendanceStatsReader, policies attendancePolicyRepository, students hostelStudentLister, hostels activeHostelLister, notifier notificationSender, validate *validator.Validate, logger *zap.Logger, window time.Duration) *AttendanceAlertService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &AttendanceAlertService{
		alerts:    alerts,
		stats:     stats,
		policies:  policies,
		students:  students,
		hostels:   hostels,
		notifier:  notifier,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		window:    window,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create raises a manual alert for a student.
func (s *AttendanceAlertService) Create(ctx context.Context, actor models.Actor, req dto.CreateAlertRequest) (*models.AttendanceAlert, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid alert payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	alert := &models.AttendanceAlert{
		StudentID:   student.ID,
		HostelID:    student.HostelID,
		AlertType:   models.AlertTypeManual,
		Severity:    req.Severity,
		Message:     req.Message,
		TriggeredBy: models.AlertTriggerUser,
		CreatedBy:   strPtr(actor.UserID),
		Status:      models.AlertStatusOpen,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		return nil, appErrors.Internal(err, "failed to create alert")
	}
	s.notifyStudent(ctx, student, alert)
	return alert, nil
}

// List returns alerts with pagination.
func (s *AttendanceAlertService) List(ctx context.Context, filter models.AttendanceAlertFilter) ([]models.AttendanceAlert, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	alerts, total, err := s.alerts.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list alerts")
	}
	return alerts, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED.
func (s *AttendanceAlertService) Acknowledge(ctx context.Context, actor models.Actor, id string) (*models.AttendanceAlert, error) {
	return s.transition(ctx, actor, id, models.AlertStatusAcknowledged, nil)
}

// Resolve closes an OPEN or ACKNOWLEDGED alert with a note.
func (s *AttendanceAlertService) Resolve(ctx context.Context, actor models.Actor, id string, req dto.ResolveAlertRequest) (*models.AttendanceAlert, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid resolve payload")
	}
	note := req.Note
	return s.transition(ctx, actor, id, models.AlertStatusResolved, &note)
}

func (s *AttendanceAlertService) transition(ctx context.Context, actor models.Actor, id string, to models.AlertStatus, note *string) (*models.AttendanceAlert, error) {
	alert, err := s.alerts.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "alert not found", "failed to load alert")
	}
	if !alert.Status.CanTransition(to) {
		return nil, conflict(fmt.Sprintf("alert cannot move from %s to %s", alert.Status, to))
	}
	at := s.now()
	if err := s.alerts.Transition(ctx, id, alert.Status, to, actor.UserID, note, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, conflict("alert status changed concurrently")
		}
		return nil, appErrors.Internal(err, "failed to update alert")
	}

	alert.Status = to
	switch to {
	case models.AlertStatusAcknowledged:
		alert.AcknowledgedBy = strPtr(actor.UserID)
		alert.AcknowledgedAt = &at
	case models.AlertStatusResolved:
		alert.ResolvedBy = strPtr(actor.UserID)
		alert.ResolvedAt = &at
		alert.ResolutionNote = note
	}
	return alert, nil
}

// Evaluate checks every active student of a hostel against its policy as of
// the given day and raises SYSTEM alerts for new violations. A violation that
// already has an unresolved alert of the same type is skipped.
func (s *AttendanceAlertService) Evaluate(ctx context.Context, hostelID string, asOf time.Time) (*models.PolicyEvaluationResult, error) {
	asOf = truncateDay(asOf)
	policy, err := s.policy(ctx, hostelID)
	if err != nil {
		return nil, err
	}
	ids, err := s.students.ListActiveIDsByHostel(ctx, hostelID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list students")
	}

	result := &models.PolicyEvaluationResult{HostelID: hostelID, AsOf: asOf, AlertsCreated: []models.AttendanceAlert{}}
	from := asOf.Add(-s.window).AddDate(0, 0, 1)
	for _, id := range ids {
		candidates, err := s.violations(ctx, id, policy, from, asOf)
		if err != nil {
			return nil, err
		}
		result.StudentsChecked++
		if len(candidates) == 0 {
			continue
		}

		student, err := s.students.FindByID(ctx, id)
		if err != nil {
			return nil, lookupError(err, "student not found", "failed to load student")
		}
		for _, alert := range candidates {
			open, err := s.alerts.HasUnresolved(ctx, id, alert.AlertType)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to check existing alerts")
			}
			if open {
				result.SkippedDuplicate++
				continue
			}
			alert.StudentID = id
			alert.HostelID = hostelID
			alert.TriggeredBy = models.AlertTriggerSystem
			alert.Status = models.AlertStatusOpen
			if err := s.alerts.Create(ctx, &alert); err != nil {
				return nil, appErrors.Internal(err, "failed to create alert")
			}
			result.AlertsCreated = append(result.AlertsCreated, alert)
			s.notifyStudent(ctx, student, &alert)
		}
	}

	s.logger.Info("attendance policy evaluated",
		zap.String("hostel_id", hostelID),
		zap.Int("students", result.StudentsChecked),
		zap.Int("alerts", len(result.AlertsCreated)),
		zap.Int("skipped", result.SkippedDuplicate))
	return result, nil
}

// EvaluateAll runs Evaluate for every active hostel. Failures are logged and
// do not stop the sweep.
func (s *AttendanceAlertService) EvaluateAll(ctx context.Context) error {
	ids, err := s.hostels.ListActiveIDs(ctx)
	if err != nil {
		return appErrors.Internal(err, "failed to list hostels")
	}
	asOf := s.now()
	for _, id := range ids {
		if _, err := s.Evaluate(ctx, id, asOf); err != nil {
			s.logger.Error("attendance evaluation failed", zap.String("hostel_id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *AttendanceAlertService) violations(ctx context.Context, studentID string, policy models.AttendancePolicy, from, asOf time.Time) ([]models.AttendanceAlert, error) {
	summary, err := s.stats.Summary(ctx, studentID, from, asOf)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to summarise attendance")
	}
	var out []models.AttendanceAlert

	if summary.Total-summary.OnLeave > 0 {
		switch {
		case summary.Percentage < policy.MinimumPercentage:
			out = append(out, models.AttendanceAlert{
				AlertType: models.AlertTypeLowAttendance,
				Severity:  models.AlertSeverityHigh,
				Message:   fmt.Sprintf("Attendance %.2f%% is below the minimum of %.2f%%", summary.Percentage, policy.MinimumPercentage),
			})
		case summary.Percentage < policy.WarningPercentage:
			out = append(out, models.AttendanceAlert{
				AlertType: models.AlertTypeLowAttendance,
				Severity:  models.AlertSeverityMedium,
				Message:   fmt.Sprintf("Attendance %.2f%% is below the warning level of %.2f%%", summary.Percentage, policy.WarningPercentage),
			})
		}
	}

	statuses, err := s.stats.RecentStatuses(ctx, studentID, asOf, policy.MaxConsecutiveAbsences*2)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load recent attendance")
	}
	if streak := absenceStreak(statuses); streak >= policy.MaxConsecutiveAbsences {
		severity := models.AlertSeverityHigh
		if streak >= policy.MaxConsecutiveAbsences*2 {
			severity = models.AlertSeverityCritical
		}
		out = append(out, models.AttendanceAlert{
			AlertType: models.AlertTypeConsecutiveAbsence,
			Severity:  severity,
			Message:   fmt.Sprintf("Absent for %d consecutive recorded days", streak),
		})
	}

	if policy.MaxLatePerWindow > 0 && summary.Late >= policy.MaxLatePerWindow {
		out = append(out, models.AttendanceAlert{
			AlertType: models.AlertTypeExcessiveLate,
			Severity:  models.AlertSeverityMedium,
			Message:   fmt.Sprintf("Late %d times since %s", summary.Late, from.Format(dto.DateLayout)),
		})
	}
	return out, nil
}

func (s *AttendanceAlertService) policy(ctx context.Context, hostelID string) (models.AttendancePolicy, error) {
	policy, err := s.policies.FindByHostel(ctx, hostelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultAttendancePolicy(hostelID), nil
		}
		return models.AttendancePolicy{}, appErrors.Internal(err, "failed to load attendance policy")
	}
	return *policy, nil
}

func (s *AttendanceAlertService) notifyStudent(ctx context.Context, student *models.StudentDetail, alert *models.AttendanceAlert) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Send(ctx, models.NotificationRequest{
		UserID:   student.UserID,
		Channel:  models.ChannelInApp,
		Type:     models.NotificationAttendanceAlert,
		Title:    "Attendance alert",
		Body:     alert.Message,
		Metadata: map[string]string{"alert_id": alert.ID, "alert_type": string(alert.AlertType)},
	})
	if err != nil {
		s.logger.Warn("failed to notify student of attendance alert", zap.String("student_id", student.ID), zap.Error(err))
	}
}

// absenceStreak counts leading ABSENT statuses; ON_LEAVE days neither break
// nor extend the streak.
func absenceStreak(statuses []models.AttendanceStatus) int {
	streak := 0
	for _, st := range statuses {
		switch st {
		case models.AttendanceStatusAbsent:
			streak++
		case models.AttendanceStatusOnLeave:
			continue
		default:
			return streak
		}
	}
	return streak
}
