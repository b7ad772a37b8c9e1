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
	"github.com/noah-isme/hostel-api/pkg/database"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type attendanceRepository interface {
	Create(ctx context.Context, record *models.AttendanceRecord) error
	ExistsForDate(ctx context.Context, studentID string, date time.Time) (bool, error)
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	FindForUpdate(ctx context.Context, id string) (*models.AttendanceRecord, error)
	ApplyCorrection(ctx context.Context, record *models.AttendanceRecord) error
	SetCheckOut(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error)
	Summary(ctx context.Context, studentID string, from, to time.Time) (*models.AttendanceSummary, error)
	RecentStatuses(ctx context.Context, studentID string, asOf time.Time, limit int) ([]models.AttendanceStatus, error)
}

type attendancePolicyRepository interface {
	FindByHostel(ctx context.Context, hostelID string) (*models.AttendancePolicy, error)
	Upsert(ctx context.Context, policy *models.AttendancePolicy) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type notificationSender interface {
	Send(ctx context.Context, req models.NotificationRequest) (*models.Notification, error)
}

// AttendanceConfig tunes attendance behaviour.
type AttendanceConfig struct {
	EvaluationWindow time.Duration
	// Location is the hostel wall clock check-in deadlines are read in.
	Location *time.Location
}

// AttendanceService coordinates attendance workflows.
type AttendanceService struct {
	records   attendanceRepository
	policies  attendancePolicyRepository
	students  studentReader
	cache     cacheInvalidator
	audit     auditWriter
	tx        database.Transactor
	validator *validator.Validate
	logger    *zap.Logger
	config    AttendanceConfig
	now       func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(records attendanceRepository, policies attendancePolicyRepository, students studentReader, cache cacheInvalidator, audit auditWriter, tx database.Transactor, validate *validator.Validate, logger *zap.Logger, config AttendanceConfig) *AttendanceService {
	if config.EvaluationWindow <= 0 {
		config.EvaluationWindow = 30 * 24 * time.Hour
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &AttendanceService{
		records:   records,
		policies:  policies,
		students:  students,
		cache:     cache,
		audit:     audit,
		tx:        tx,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Mark records one student's attendance for a day. When status is omitted it
// is derived from the check-in time and the hostel's late cutoff.
func (s *AttendanceService) Mark(ctx context.Context, actor models.Actor, req dto.MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date, err := s.markableDate(req.Date)
	if err != nil {
		return nil, err
	}
	student, err := s.activeStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policyFor(ctx, student.HostelID)
	if err != nil {
		return nil, err
	}
	record, err := buildRecord(student, date, req.Status, req.CheckInTime, req.Remarks, actor.UserID, policy, s.config.Location)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}
	s.invalidate(ctx, student.HostelID)
	return record, nil
}

// BulkMark records a hostel's attendance for a day. In atomic mode the first
// failure rolls back the whole batch; in partialOnError mode failures are
// returned as conflicts and the remaining rows are kept.
func (s *AttendanceService) BulkMark(ctx context.Context, actor models.Actor, hostelID string, req dto.BulkAttendanceRequest) (*models.AttendanceBulkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk attendance payload")
	}
	date, err := s.markableDate(req.Date)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.StudentID]; dup {
			return nil, conflict("duplicate student in payload: " + item.StudentID)
		}
		seen[item.StudentID] = struct{}{}
	}
	policy, err := s.policyFor(ctx, hostelID)
	if err != nil {
		return nil, err
	}

	markOne := func(ctx context.Context, item dto.BulkAttendanceItem) (*models.AttendanceRecord, error) {
		student, err := s.activeStudent(ctx, item.StudentID)
		if err != nil {
			return nil, err
		}
		if student.HostelID != hostelID {
			return nil, validationFailed("student does not belong to hostel")
		}
		record, err := buildRecord(student, date, item.Status, item.CheckInTime, item.Remarks, actor.UserID, policy, s.config.Location)
		if err != nil {
			return nil, err
		}
		if err := s.insert(ctx, record); err != nil {
			return nil, err
		}
		return record, nil
	}

	result := &models.AttendanceBulkResult{Created: make([]models.AttendanceRecord, 0, len(req.Items))}
	if req.Mode == models.BulkModePartialOnError {
		for _, item := range req.Items {
			record, err := markOne(ctx, item)
			if err != nil {
				appErr := appErrors.FromError(err)
				if appErr.Code == appErrors.ErrInternal.Code {
					return nil, err
				}
				result.Conflicts = append(result.Conflicts, models.AttendanceBulkConflict{StudentID: item.StudentID, Date: date, Reason: appErr.Message})
				continue
			}
			result.Created = append(result.Created, *record)
		}
	} else {
		err = s.tx.Do(ctx, func(ctx context.Context) error {
			for _, item := range req.Items {
				record, err := markOne(ctx, item)
				if err != nil {
					return err
				}
				result.Created = append(result.Created, *record)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if len(result.Created) > 0 {
		s.invalidate(ctx, hostelID)
	}
	s.logger.Info("bulk attendance marked",
		zap.String("hostel_id", hostelID),
		zap.String("date", date.Format(dto.DateLayout)),
		zap.Int("created", len(result.Created)),
		zap.Int("conflicts", len(result.Conflicts)))
	return result, nil
}

// Correct amends a record. Each record accepts at most the hostel's
// max_corrections_per_record corrections.
func (s *AttendanceService) Correct(ctx context.Context, actor models.Actor, id string, req dto.CorrectAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid correction payload")
	}
	if req.Status == nil && req.CheckInTime == nil && req.CheckOutTime == nil {
		return nil, validationFailed("nothing to correct")
	}

	var record *models.AttendanceRecord
	var before models.AttendanceRecord
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.records.FindForUpdate(ctx, id)
		if err != nil {
			return lookupError(err, "attendance record not found", "failed to load attendance record")
		}
		policy, err := s.policyFor(ctx, record.HostelID)
		if err != nil {
			return err
		}
		if record.CorrectionCount >= policy.MaxCorrectionsPerRecord {
			return businessRule(fmt.Sprintf("record already corrected %d times; limit is %d", record.CorrectionCount, policy.MaxCorrectionsPerRecord))
		}

		before = *record
		if req.Status != nil {
			record.Status = *req.Status
		}
		if req.CheckInTime != nil {
			record.CheckInTime = req.CheckInTime
		}
		if req.CheckOutTime != nil {
			record.CheckOutTime = req.CheckOutTime
		}
		if record.CheckInTime != nil && record.CheckOutTime != nil && record.CheckOutTime.Before(*record.CheckInTime) {
			return validationFailed("check_out_time must not be before check_in_time")
		}
		reason := req.Reason
		record.Remarks = &reason

		if err := s.records.ApplyCorrection(ctx, record); err != nil {
			return appErrors.Internal(err, "failed to correct attendance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionAttendanceCorrect, "attendance", record.ID,
		correctionSnapshot(&before), correctionSnapshot(record))
	s.invalidate(ctx, record.HostelID)
	return record, nil
}

// CheckOut stamps a check-out time, defaulting to now.
func (s *AttendanceService) CheckOut(ctx context.Context, id string, req dto.CheckOutRequest) (*models.AttendanceRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "attendance record not found", "failed to load attendance record")
	}
	if record.Status == models.AttendanceStatusAbsent || record.Status == models.AttendanceStatusOnLeave {
		return nil, businessRule("cannot check out a student marked " + string(record.Status))
	}
	at := s.now()
	if req.CheckOutTime != nil {
		at = req.CheckOutTime.UTC()
	}
	if record.CheckInTime != nil && at.Before(*record.CheckInTime) {
		return nil, validationFailed("check_out_time must not be before check_in_time")
	}
	if err := s.records.SetCheckOut(ctx, id, at); err != nil {
		return nil, lookupError(err, "attendance record not found", "failed to check out")
	}
	record.CheckOutTime = &at
	return record, nil
}

// Get returns a record by ID.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "attendance record not found", "failed to load attendance record")
	}
	return record, nil
}

// List returns paginated attendance.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, nil, validationFailed("to must not be before from")
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	rows, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list attendance")
	}
	return rows, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// StudentHistory returns a student's records within a range, newest first.
func (s *AttendanceService) StudentHistory(ctx context.Context, studentID string, from, to *time.Time, page, pageSize int) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, nil, lookupError(err, "student not found", "failed to load student")
	}
	return s.List(ctx, models.AttendanceFilter{StudentID: studentID, DateFrom: from, DateTo: to, Page: page, PageSize: pageSize, SortBy: "date"})
}

// StudentSummary aggregates a student's attendance. A missing range defaults
// to the evaluation window ending today.
func (s *AttendanceService) StudentSummary(ctx context.Context, studentID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	start, end, err := s.resolveRange(from, to)
	if err != nil {
		return nil, err
	}
	summary, err := s.records.Summary(ctx, studentID, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to summarise attendance")
	}
	return summary, nil
}

// GetPolicy returns the hostel's policy or the default when none is stored.
func (s *AttendanceService) GetPolicy(ctx context.Context, hostelID string) (*models.AttendancePolicy, error) {
	policy, err := s.policyFor(ctx, hostelID)
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// UpsertPolicy stores the hostel's attendance thresholds.
func (s *AttendanceService) UpsertPolicy(ctx context.Context, hostelID string, req dto.AttendancePolicyRequest) (*models.AttendancePolicy, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance policy")
	}
	policy := &models.AttendancePolicy{
		HostelID:                hostelID,
		MinimumPercentage:       req.MinimumPercentage,
		WarningPercentage:       req.WarningPercentage,
		LateGraceMinutes:        req.LateGraceMinutes,
		CheckInDeadline:         req.CheckInDeadline,
		MaxConsecutiveAbsences:  req.MaxConsecutiveAbsences,
		MaxLatePerWindow:        req.MaxLatePerWindow,
		MaxCorrectionsPerRecord: req.MaxCorrectionsPerRecord,
	}
	if err := s.policies.Upsert(ctx, policy); err != nil {
		return nil, appErrors.Internal(err, "failed to save attendance policy")
	}
	s.invalidate(ctx, hostelID)
	return policy, nil
}

func (s *AttendanceService) policyFor(ctx context.Context, hostelID string) (models.AttendancePolicy, error) {
	policy, err := s.policies.FindByHostel(ctx, hostelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultAttendancePolicy(hostelID), nil
		}
		return models.AttendancePolicy{}, appErrors.Internal(err, "failed to load attendance policy")
	}
	return *policy, nil
}

func (s *AttendanceService) activeStudent(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	if !student.Active {
		return nil, businessRule("student is inactive")
	}
	return student, nil
}

func (s *AttendanceService) markableDate(raw string) (time.Time, error) {
	date, err := parseDate(raw, "date")
	if err != nil {
		return time.Time{}, err
	}
	if date.After(truncateDay(s.now())) {
		return time.Time{}, validationFailed("attendance date cannot be in the future")
	}
	return date, nil
}

func (s *AttendanceService) insert(ctx context.Context, record *models.AttendanceRecord) error {
	exists, err := s.records.ExistsForDate(ctx, record.StudentID, record.AttendanceDate)
	if err != nil {
		return appErrors.Internal(err, "failed to check existing attendance")
	}
	if exists {
		return duplicateAttendance(record)
	}
	if err := s.records.Create(ctx, record); err != nil {
		if mapped := appErrors.FromPostgres(err, "attendance already marked"); mapped != nil && mapped.Code == appErrors.ErrConflict.Code {
			return duplicateAttendance(record)
		}
		return appErrors.Internal(err, "failed to mark attendance")
	}
	return nil
}

func (s *AttendanceService) resolveRange(from, to *time.Time) (time.Time, time.Time, error) {
	return windowRange(s.now(), s.config.EvaluationWindow, from, to)
}

func (s *AttendanceService) invalidate(ctx context.Context, hostelID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, analyticsCachePattern(hostelID)); err != nil {
		s.logger.Warn("failed to invalidate attendance analytics cache", zap.String("hostel_id", hostelID), zap.Error(err))
	}
}

func buildRecord(student *models.StudentDetail, date time.Time, status models.AttendanceStatus, checkIn *time.Time, remarks, markedBy string, policy models.AttendancePolicy, loc *time.Location) (*models.AttendanceRecord, error) {
	if status == "" {
		if checkIn == nil {
			return nil, validationFailed("status or check_in_time is required")
		}
		cutoff, err := policy.LateCutoff(date, loc)
		if err != nil {
			return nil, appErrors.Internal(err, "invalid attendance policy")
		}
		status = models.AttendanceStatusPresent
		if checkIn.After(cutoff) {
			status = models.AttendanceStatusLate
		}
	}
	if checkIn != nil && (status == models.AttendanceStatusAbsent || status == models.AttendanceStatusOnLeave) {
		return nil, validationFailed("check_in_time is not allowed for status " + string(status))
	}
	return &models.AttendanceRecord{
		StudentID:      student.ID,
		HostelID:       student.HostelID,
		AttendanceDate: date,
		Status:         status,
		CheckInTime:    checkIn,
		Remarks:        strPtr(remarks),
		MarkedBy:       strPtr(markedBy),
	}, nil
}

func duplicateAttendance(record *models.AttendanceRecord) error {
	return conflict(fmt.Sprintf("attendance already marked for student %s on %s", record.StudentID, record.AttendanceDate.Format(dto.DateLayout)))
}

func correctionSnapshot(r *models.AttendanceRecord) map[string]interface{} {
	return map[string]interface{}{
		"status":           r.Status,
		"check_in_time":    r.CheckInTime,
		"check_out_time":   r.CheckOutTime,
		"correction_count": r.CorrectionCount,
	}
}
