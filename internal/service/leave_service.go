package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/storage"
)

type leaveRepository interface {
	Create(ctx context.Context, leave *models.LeaveApplication) error
	FindByID(ctx context.Context, id string) (*models.LeaveApplication, error)
	FindForUpdate(ctx context.Context, id string) (*models.LeaveApplication, error)
	HasOverlap(ctx context.Context, studentID string, from, to time.Time) (bool, error)
	List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveApplication, int, error)
	ListPending(ctx context.Context, hostelID string, limit int) ([]models.LeaveApplication, error)
	ListOverdue(ctx context.Context, cutoff time.Time) ([]models.LeaveApplication, error)
	AdvanceLevel(ctx context.Context, id string, expectedLevel, level int, at time.Time) error
	MarkApproved(ctx context.Context, id string, expectedLevel, level int, approverID string, at time.Time) error
	MarkRejected(ctx context.Context, id string, expectedLevel int, approverID, reason string, at time.Time) error
	MarkCancelled(ctx context.Context, id string, from models.LeaveStatus, by string, reason *string, at time.Time) error
	SetAttachment(ctx context.Context, id, path string) error
	CreateApproval(ctx context.Context, approval *models.LeaveApproval) error
	ListApprovals(ctx context.Context, leaveID string) ([]models.LeaveApproval, error)
}

type leaveBalanceRepository interface {
	Find(ctx context.Context, studentID string, leaveType models.LeaveType, year string) (*models.LeaveBalance, error)
	FindForUpdate(ctx context.Context, studentID string, leaveType models.LeaveType, year string) (*models.LeaveBalance, error)
	ListByStudent(ctx context.Context, studentID, year string) ([]models.LeaveBalance, error)
	UpsertAllocation(ctx context.Context, balance *models.LeaveBalance) error
	Adjust(ctx context.Context, id string, pendingDelta, usedDelta int) error
}

type leaveWorkflowRepository interface {
	ListSteps(ctx context.Context, hostelID string, leaveType models.LeaveType) ([]models.LeaveApprovalStep, error)
	ReplaceSteps(ctx context.Context, hostelID string, leaveType models.LeaveType, steps []models.LeaveApprovalStep) error
	ApproverIDs(ctx context.Context, hostelID string, role models.UserRole) ([]string, error)
}

type leaveStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
}

type attachmentStore interface {
	SaveStream(key string, r io.Reader, maxBytes int64) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

// LeaveConfig tunes the approval SLA and attachment handling.
type LeaveConfig struct {
	SLA                time.Duration
	MaxAttachmentBytes int64
	AllowedMIMEs       []string
	DownloadPath       string
}

// LeaveAttachment is the upload handed over by the HTTP layer.
type LeaveAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// LeaveService runs leave applications through balance checks and the
// hostel's approval chain.
type LeaveService struct {
	leaves    leaveRepository
	balances  leaveBalanceRepository
	workflow  leaveWorkflowRepository
	students  leaveStudentReader
	hostels   hostelReader
	notifier  notificationSender
	files     attachmentStore
	signer    *storage.SignedURLSigner
	audit     auditWriter
	tx        database.Transactor
	validator *validator.Validate
	logger    *zap.Logger
	config    LeaveConfig
	now       func() time.Time
}

// NewLeaveService constructs a LeaveService.
func NewLeaveService(leaves leaveRepository, balances leaveBalanceRepository, workflow leaveWorkflowRepository, students leaveStudentReader, hostels hostelReader, notifier notificationSender, files attachmentStore, signer *storage.SignedURLSigner, audit auditWriter, tx database.Transactor, validate *validator.Validate, logger *zap.Logger, config LeaveConfig) *LeaveService {
	if config.SLA <= 0 {
		config.SLA = 48 * time.Hour
	}
	if config.MaxAttachmentBytes <= 0 {
		config.MaxAttachmentBytes = 5 << 20
	}
	if len(config.AllowedMIMEs) == 0 {
		config.AllowedMIMEs = []string{"application/pdf", "image/jpeg", "image/png"}
	}
	if config.DownloadPath == "" {
		config.DownloadPath = "/api/v1/leaves/attachments"
	}
	return &LeaveService{
		leaves:    leaves,
		balances:  balances,
		workflow:  workflow,
		students:  students,
		hostels:   hostels,
		notifier:  notifier,
		files:     files,
		signer:    signer,
		audit:     audit,
		tx:        tx,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		config:    config,
		now:       time.Now,
	}
}

// Apply submits a leave for the acting student and reserves the days as pending.
func (s *LeaveService) Apply(ctx context.Context, actor models.Actor, req dto.ApplyLeaveRequest) (*models.LeaveApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid leave application")
	}
	from, err := parseDate(req.FromDate, "from_date")
	if err != nil {
		return nil, err
	}
	to, err := parseDate(req.ToDate, "to_date")
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, validationFailed("to_date must not be before from_date")
	}
	if from.Before(truncateDay(s.now())) {
		return nil, validationFailed("from_date must not be in the past")
	}
	days := models.InclusiveDays(from, to)
	if days <= 0 {
		return nil, validationFailed("leave must cover at least one day")
	}
	if limit := req.LeaveType.MaxDays(); days > limit {
		return nil, businessRule(fmt.Sprintf("%s leave is limited to %d days", req.LeaveType, limit))
	}

	student, err := s.ownStudent(ctx, actor)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	leave := &models.LeaveApplication{
		StudentID:    student.ID,
		HostelID:     student.HostelID,
		LeaveType:    req.LeaveType,
		FromDate:     from,
		ToDate:       to,
		TotalDays:    days,
		Reason:       strings.TrimSpace(req.Reason),
		Destination:  strings.TrimSpace(req.Destination),
		ContactPhone: req.ContactPhone,
		Status:       models.LeaveStatusPending,
		AcademicYear: models.AcademicYearFor(from),
		AppliedAt:    now,
		UpdatedAt:    now,
	}

	err = s.tx.Do(ctx, func(ctx context.Context) error {
		overlap, err := s.leaves.HasOverlap(ctx, student.ID, from, to)
		if err != nil {
			return appErrors.Internal(err, "failed to check overlapping leave")
		}
		if overlap {
			return conflict("leave overlaps an existing pending or approved leave")
		}
		balance, err := s.lockBalance(ctx, leave)
		if err != nil {
			return err
		}
		if balance.Available() < days {
			return businessRule(fmt.Sprintf("insufficient %s leave balance: %d days remaining", leave.LeaveType, balance.Available()))
		}
		if err := s.leaves.Create(ctx, leave); err != nil {
			return appErrors.Internal(err, "failed to create leave application")
		}
		if err := s.balances.Adjust(ctx, balance.ID, days, 0); err != nil {
			return appErrors.Internal(err, "failed to reserve leave balance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, s.logger, actor, "LEAVE_APPLY", "leave_application", leave.ID, nil, leave)
	steps, err := s.workflow.ListSteps(ctx, leave.HostelID, leave.LeaveType)
	if err != nil {
		s.logger.Warn("failed to load approval steps", zap.String("leave_id", leave.ID), zap.Error(err))
	}
	s.notifyApprovers(ctx, leave, approverRole(models.NextApprovalStep(steps, 0, leave.TotalDays)), models.NotificationLeaveSubmitted,
		"Leave awaiting approval", fmt.Sprintf("%s leave for %d day(s) from %s", leave.LeaveType, leave.TotalDays, formatDay(leave.FromDate)))
	return leave, nil
}

// Approve records the actor's approval at the next applicable step and
// finalises the leave when no further step applies.
func (s *LeaveService) Approve(ctx context.Context, actor models.Actor, id string, req dto.LeaveDecisionRequest) (*models.LeaveDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid approval payload")
	}
	var (
		leave *models.LeaveApplication
		next  *models.LeaveApprovalStep
		final bool
	)
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var (
			steps []models.LeaveApprovalStep
			order int
			err   error
		)
		leave, steps, order, err = s.decisionContext(ctx, actor, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.leaves.CreateApproval(ctx, &models.LeaveApproval{
			LeaveID:    leave.ID,
			StepOrder:  order,
			ApproverID: actor.UserID,
			Decision:   models.LeaveDecisionApproved,
			Comment:    strPtr(strings.TrimSpace(req.Comment)),
			DecidedAt:  now,
		}); err != nil {
			return appErrors.Internal(err, "failed to record approval")
		}

		next = models.NextApprovalStep(steps, order, leave.TotalDays)
		final = next == nil
		if !final {
			if err := s.leaves.AdvanceLevel(ctx, leave.ID, leave.CompletedLevels, order, now); err != nil {
				return decisionError(err)
			}
			return nil
		}
		if err := s.leaves.MarkApproved(ctx, leave.ID, leave.CompletedLevels, order, actor.UserID, now); err != nil {
			return decisionError(err)
		}
		balance, err := s.lockBalance(ctx, leave)
		if err != nil {
			return err
		}
		if err := s.balances.Adjust(ctx, balance.ID, -leave.TotalDays, leave.TotalDays); err != nil {
			return appErrors.Internal(err, "failed to settle leave balance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, s.logger, actor, "LEAVE_APPROVE", "leave_application", leave.ID, nil, map[string]interface{}{"final": final, "comment": req.Comment})
	if final {
		s.notifyStudent(ctx, leave, models.NotificationLeaveApproved, "Leave approved",
			fmt.Sprintf("Your %s leave from %s has been approved", leave.LeaveType, formatDay(leave.FromDate)))
	} else {
		s.notifyApprovers(ctx, leave, next.ApproverRole, models.NotificationLeaveSubmitted, "Leave awaiting approval",
			fmt.Sprintf("%s leave for %d day(s) needs step %d approval", leave.LeaveType, leave.TotalDays, next.StepOrder))
	}
	return s.detail(ctx, leave.ID)
}

// Reject closes a pending leave and releases its pending days.
func (s *LeaveService) Reject(ctx context.Context, actor models.Actor, id string, req dto.RejectLeaveRequest) (*models.LeaveDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "rejection reason is required")
	}
	reason := strings.TrimSpace(req.Reason)
	var leave *models.LeaveApplication
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var (
			order int
			err   error
		)
		leave, _, order, err = s.decisionContext(ctx, actor, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.leaves.CreateApproval(ctx, &models.LeaveApproval{
			LeaveID:    leave.ID,
			StepOrder:  order,
			ApproverID: actor.UserID,
			Decision:   models.LeaveDecisionRejected,
			Comment:    &reason,
			DecidedAt:  now,
		}); err != nil {
			return appErrors.Internal(err, "failed to record rejection")
		}
		if err := s.leaves.MarkRejected(ctx, leave.ID, leave.CompletedLevels, actor.UserID, reason, now); err != nil {
			return decisionError(err)
		}
		balance, err := s.lockBalance(ctx, leave)
		if err != nil {
			return err
		}
		if err := s.balances.Adjust(ctx, balance.ID, -leave.TotalDays, 0); err != nil {
			return appErrors.Internal(err, "failed to release leave balance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, s.logger, actor, "LEAVE_REJECT", "leave_application", leave.ID, nil, map[string]string{"reason": reason})
	s.notifyStudent(ctx, leave, models.NotificationLeaveRejected, "Leave rejected", reason)
	return s.detail(ctx, leave.ID)
}

// Cancel withdraws the acting student's leave. Pending days are released;
// approved leave can only be cancelled before it starts.
func (s *LeaveService) Cancel(ctx context.Context, actor models.Actor, id string, req dto.CancelLeaveRequest) (*models.LeaveApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid cancellation payload")
	}
	student, err := s.ownStudent(ctx, actor)
	if err != nil {
		return nil, err
	}
	var leave *models.LeaveApplication
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		var err error
		leave, err = s.leaves.FindForUpdate(ctx, id)
		if err != nil {
			return lookupError(err, "leave not found", "failed to load leave")
		}
		if leave.StudentID != student.ID {
			return forbidden("only the applicant can cancel this leave")
		}
		var pendingDelta, usedDelta int
		switch {
		case leave.Status == models.LeaveStatusPending:
			pendingDelta = -leave.TotalDays
		case leave.Status == models.LeaveStatusApproved && leave.FromDate.After(truncateDay(s.now())):
			usedDelta = -leave.TotalDays
		case leave.Status == models.LeaveStatusApproved:
			return businessRule("approved leave that has already started cannot be cancelled")
		default:
			return businessRule(fmt.Sprintf("%s leave cannot be cancelled", strings.ToLower(string(leave.Status))))
		}
		now := s.now().UTC()
		if err := s.leaves.MarkCancelled(ctx, leave.ID, leave.Status, actor.UserID, strPtr(strings.TrimSpace(req.Reason)), now); err != nil {
			return decisionError(err)
		}
		balance, err := s.lockBalance(ctx, leave)
		if err != nil {
			return err
		}
		if err := s.balances.Adjust(ctx, balance.ID, pendingDelta, usedDelta); err != nil {
			return appErrors.Internal(err, "failed to restore leave balance")
		}
		leave.Status = models.LeaveStatusCancelled
		leave.CancelledBy = strPtr(actor.UserID)
		leave.CancelledAt = &now
		leave.CancellationReason = strPtr(strings.TrimSpace(req.Reason))
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, s.logger, actor, "LEAVE_CANCEL", "leave_application", leave.ID, nil, map[string]string{"reason": req.Reason})
	s.notifyApprovers(ctx, leave, models.RoleWarden, models.NotificationLeaveCancelled, "Leave cancelled",
		fmt.Sprintf("%s leave from %s was cancelled by the student", leave.LeaveType, formatDay(leave.FromDate)))
	return leave, nil
}

// Get returns a leave with its decision trail. Students may only read their own.
func (s *LeaveService) Get(ctx context.Context, actor models.Actor, id string) (*models.LeaveDetail, error) {
	detail, err := s.detail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() {
		student, err := s.ownStudent(ctx, actor)
		if err != nil {
			return nil, err
		}
		if detail.StudentID != student.ID {
			return nil, forbidden("leave belongs to another student")
		}
	}
	return detail, nil
}

// List returns leaves matching filter; students are scoped to their own.
func (s *LeaveService) List(ctx context.Context, actor models.Actor, filter models.LeaveFilter) ([]models.LeaveApplication, *models.Pagination, error) {
	if !actor.IsStaff() {
		student, err := s.ownStudent(ctx, actor)
		if err != nil {
			return nil, nil, err
		}
		filter.StudentID = student.ID
	}
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	leaves, total, err := s.leaves.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list leaves")
	}
	return leaves, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// PendingForApprover lists pending leaves whose next step the actor may decide.
func (s *LeaveService) PendingForApprover(ctx context.Context, actor models.Actor, hostelID string, limit int) ([]models.LeaveApplication, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pending, err := s.leaves.ListPending(ctx, hostelID, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list pending leaves")
	}
	chains := map[string][]models.LeaveApprovalStep{}
	out := make([]models.LeaveApplication, 0, len(pending))
	for _, leave := range pending {
		key := leave.HostelID + "|" + string(leave.LeaveType)
		steps, ok := chains[key]
		if !ok {
			steps, err = s.workflow.ListSteps(ctx, leave.HostelID, leave.LeaveType)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to load approval steps")
			}
			chains[key] = steps
		}
		if canDecide(actor.Role, models.NextApprovalStep(steps, leave.CompletedLevels, leave.TotalDays)) {
			out = append(out, leave)
		}
	}
	return out, nil
}

// Overdue returns pending leaves older than sla; a non-positive sla uses the configured one.
func (s *LeaveService) Overdue(ctx context.Context, sla time.Duration) ([]models.LeaveApplication, error) {
	if sla <= 0 {
		sla = s.config.SLA
	}
	leaves, err := s.leaves.ListOverdue(ctx, s.now().UTC().Add(-sla))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list overdue leaves")
	}
	return leaves, nil
}

// SweepOverdue reminds hostel wardens of leaves waiting past the SLA.
func (s *LeaveService) SweepOverdue(ctx context.Context) error {
	leaves, err := s.Overdue(ctx, 0)
	if err != nil {
		return err
	}
	for i := range leaves {
		leave := &leaves[i]
		waited := s.now().UTC().Sub(leave.AppliedAt).Round(time.Hour)
		s.notifyApprovers(ctx, leave, models.RoleWarden, models.NotificationLeaveOverdue, "Leave approval overdue",
			fmt.Sprintf("%s leave from %s has waited %s for a decision", leave.LeaveType, formatDay(leave.FromDate), waited))
	}
	if len(leaves) > 0 {
		s.logger.Info("overdue leave sweep", zap.Int("overdue", len(leaves)), zap.Duration("sla", s.config.SLA))
	}
	return nil
}

// AllocateBalance sets a student's allowance for a leave type and year,
// keeping days already used or pending.
func (s *LeaveService) AllocateBalance(ctx context.Context, actor models.Actor, req dto.AllocateBalanceRequest) (*models.LeaveBalance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid balance allocation")
	}
	year := req.AcademicYear
	if year == "" {
		year = models.AcademicYearFor(s.now())
	}
	if !validAcademicYear(year) {
		return nil, validationFailed("academic_year must look like 2024-2025")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}

	balance := &models.LeaveBalance{
		StudentID:        req.StudentID,
		LeaveType:        req.LeaveType,
		AcademicYear:     year,
		AllocatedDays:    req.AllocatedDays,
		CarryForwardDays: req.CarryForwardDays,
	}
	var previous *models.LeaveBalance
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		existing, err := s.balances.FindForUpdate(ctx, req.StudentID, req.LeaveType, year)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return appErrors.Internal(err, "failed to load leave balance")
		default:
			previous = existing
			if committed := existing.UsedDays + existing.PendingDays; req.AllocatedDays+req.CarryForwardDays < committed {
				return businessRule(fmt.Sprintf("allocation below the %d days already used or pending", committed))
			}
			balance.ID = existing.ID
		}
		if err := s.balances.UpsertAllocation(ctx, balance); err != nil {
			return appErrors.Internal(err, "failed to save leave balance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordAudit(ctx, s.audit, s.logger, actor, "LEAVE_BALANCE_ALLOCATE", "leave_balance", balance.ID, previous, balance)
	return balance, nil
}

// GetBalances lists a student's balances for a year, defaulting to the current one.
func (s *LeaveService) GetBalances(ctx context.Context, actor models.Actor, studentID, year string) ([]models.LeaveBalance, error) {
	if !actor.IsStaff() {
		student, err := s.ownStudent(ctx, actor)
		if err != nil {
			return nil, err
		}
		if studentID != "" && studentID != student.ID {
			return nil, forbidden("balances belong to another student")
		}
		studentID = student.ID
	}
	if studentID == "" {
		return nil, validationFailed("student_id is required")
	}
	if year == "" {
		year = models.AcademicYearFor(s.now())
	}
	if !validAcademicYear(year) {
		return nil, validationFailed("academic_year must look like 2024-2025")
	}
	balances, err := s.balances.ListByStudent(ctx, studentID, year)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list leave balances")
	}
	if balances == nil {
		balances = []models.LeaveBalance{}
	}
	return balances, nil
}

// ListSteps returns a hostel's approval chain for a leave type.
func (s *LeaveService) ListSteps(ctx context.Context, hostelID string, leaveType models.LeaveType) ([]models.LeaveApprovalStep, error) {
	if !leaveType.Valid() {
		return nil, validationFailed("unknown leave type")
	}
	steps, err := s.workflow.ListSteps(ctx, hostelID, leaveType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load approval steps")
	}
	if steps == nil {
		steps = []models.LeaveApprovalStep{}
	}
	return steps, nil
}

// ReplaceSteps swaps a hostel's approval chain for a leave type. Step orders
// must start at 1 and strictly increase.
func (s *LeaveService) ReplaceSteps(ctx context.Context, actor models.Actor, hostelID string, leaveType models.LeaveType, req dto.ReplaceStepsRequest) ([]models.LeaveApprovalStep, error) {
	if !leaveType.Valid() {
		return nil, validationFailed("unknown leave type")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid approval steps")
	}
	if _, err := s.hostels.FindByID(ctx, hostelID); err != nil {
		return nil, lookupError(err, "hostel not found", "failed to load hostel")
	}
	steps := make([]models.LeaveApprovalStep, 0, len(req.Steps))
	for i, in := range req.Steps {
		if (i == 0 && in.StepOrder != 1) || (i > 0 && in.StepOrder <= req.Steps[i-1].StepOrder) {
			return nil, validationFailed("step orders must start at 1 and strictly increase")
		}
		steps = append(steps, models.LeaveApprovalStep{
			HostelID:     hostelID,
			LeaveType:    leaveType,
			StepOrder:    in.StepOrder,
			ApproverRole: in.ApproverRole,
			MinDays:      in.MinDays,
		})
	}
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		return s.workflow.ReplaceSteps(ctx, hostelID, leaveType, steps)
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to replace approval steps")
	}
	recordAudit(ctx, s.audit, s.logger, actor, "LEAVE_WORKFLOW_REPLACE", "leave_approval_steps", hostelID, nil, steps)
	return steps, nil
}

// UploadAttachment stores a supporting document for the acting student's pending leave.
func (s *LeaveService) UploadAttachment(ctx context.Context, actor models.Actor, id string, file LeaveAttachment) (*models.LeaveDetail, error) {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(file.ContentType, ";")[0]))
	if !s.allowedMIME(contentType) {
		return nil, validationFailed("unsupported attachment type " + contentType)
	}
	if file.Size > s.config.MaxAttachmentBytes {
		return nil, validationFailed(fmt.Sprintf("attachment exceeds %d bytes", s.config.MaxAttachmentBytes))
	}
	student, err := s.ownStudent(ctx, actor)
	if err != nil {
		return nil, err
	}
	leave, err := s.leaves.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "leave not found", "failed to load leave")
	}
	if leave.StudentID != student.ID {
		return nil, forbidden("leave belongs to another student")
	}
	if leave.Status != models.LeaveStatusPending {
		return nil, businessRule("attachments can only be added to pending leave")
	}

	key := fmt.Sprintf("leaves/%s/%s%s", leave.ID, uuid.NewString(), strings.ToLower(filepath.Ext(file.Filename)))
	if _, err := s.files.SaveStream(key, file.Body, s.config.MaxAttachmentBytes); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, validationFailed(fmt.Sprintf("attachment exceeds %d bytes", s.config.MaxAttachmentBytes))
		}
		return nil, appErrors.Internal(err, "failed to store attachment")
	}
	if err := s.leaves.SetAttachment(ctx, leave.ID, key); err != nil {
		_ = s.files.Delete(key)
		return nil, appErrors.Internal(err, "failed to save attachment")
	}
	if leave.HasAttachment() {
		if err := s.files.Delete(*leave.AttachmentPath); err != nil {
			s.logger.Warn("failed to remove replaced attachment", zap.String("leave_id", leave.ID), zap.Error(err))
		}
	}
	return s.Get(ctx, actor, leave.ID)
}

// AttachmentURL issues a signed, expiring download link for a leave's attachment.
func (s *LeaveService) AttachmentURL(ctx context.Context, actor models.Actor, id string) (*models.LeaveAttachmentLink, error) {
	detail, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !detail.LeaveApplication.HasAttachment() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "leave has no attachment")
	}
	token, expires, err := s.signer.Generate(detail.ID, *detail.AttachmentPath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign attachment link")
	}
	return &models.LeaveAttachmentLink{
		URL:       strings.TrimRight(s.config.DownloadPath, "/") + "/" + token,
		ExpiresAt: expires,
	}, nil
}

// ResolveAttachment opens the file behind a signed download token.
func (s *LeaveService) ResolveAttachment(ctx context.Context, token string) (*os.File, string, error) {
	leaveID, key, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", forbidden("download link expired")
		}
		return nil, "", forbidden("invalid download link")
	}
	leave, err := s.leaves.FindByID(ctx, leaveID)
	if err != nil {
		return nil, "", lookupError(err, "leave not found", "failed to load leave")
	}
	if !leave.HasAttachment() || *leave.AttachmentPath != key {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachment no longer available")
	}
	f, err := s.files.Open(key)
	if err != nil {
		return nil, "", appErrors.Internal(err, "failed to open attachment")
	}
	return f, filepath.Base(key), nil
}

// decisionContext locks a pending leave and returns it with its chain and
// the step order the actor is deciding.
func (s *LeaveService) decisionContext(ctx context.Context, actor models.Actor, id string) (*models.LeaveApplication, []models.LeaveApprovalStep, int, error) {
	leave, err := s.leaves.FindForUpdate(ctx, id)
	if err != nil {
		return nil, nil, 0, lookupError(err, "leave not found", "failed to load leave")
	}
	if leave.Status != models.LeaveStatusPending {
		return nil, nil, 0, conflict(fmt.Sprintf("leave is already %s", strings.ToLower(string(leave.Status))))
	}
	steps, err := s.workflow.ListSteps(ctx, leave.HostelID, leave.LeaveType)
	if err != nil {
		return nil, nil, 0, appErrors.Internal(err, "failed to load approval steps")
	}
	step := models.NextApprovalStep(steps, leave.CompletedLevels, leave.TotalDays)
	if !canDecide(actor.Role, step) {
		return nil, nil, 0, forbidden(fmt.Sprintf("step requires %s approval", approverRole(step)))
	}
	order := leave.CompletedLevels + 1
	if step != nil {
		order = step.StepOrder
	}
	return leave, steps, order, nil
}

func (s *LeaveService) lockBalance(ctx context.Context, leave *models.LeaveApplication) (*models.LeaveBalance, error) {
	balance, err := s.balances.FindForUpdate(ctx, leave.StudentID, leave.LeaveType, leave.AcademicYear)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, businessRule(fmt.Sprintf("no %s leave balance allocated for %s", leave.LeaveType, leave.AcademicYear))
		}
		return nil, appErrors.Internal(err, "failed to load leave balance")
	}
	return balance, nil
}

func (s *LeaveService) detail(ctx context.Context, id string) (*models.LeaveDetail, error) {
	leave, err := s.leaves.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "leave not found", "failed to load leave")
	}
	approvals, err := s.leaves.ListApprovals(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load leave approvals")
	}
	if approvals == nil {
		approvals = []models.LeaveApproval{}
	}
	detail := &models.LeaveDetail{LeaveApplication: *leave, HasAttachment: leave.HasAttachment(), Approvals: approvals}
	if leave.Status == models.LeaveStatusPending {
		steps, err := s.workflow.ListSteps(ctx, leave.HostelID, leave.LeaveType)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load approval steps")
		}
		if step := models.NextApprovalStep(steps, leave.CompletedLevels, leave.TotalDays); step != nil {
			order := step.StepOrder
			detail.NextStep = &order
		}
	}
	return detail, nil
}

func (s *LeaveService) ownStudent(ctx context.Context, actor models.Actor) (*models.StudentDetail, error) {
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbidden("no student profile for this account")
		}
		return nil, appErrors.Internal(err, "failed to load student profile")
	}
	if !student.Active {
		return nil, forbidden("student profile is inactive")
	}
	return student, nil
}

func (s *LeaveService) allowedMIME(contentType string) bool {
	for _, allowed := range s.config.AllowedMIMEs {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func (s *LeaveService) notifyStudent(ctx context.Context, leave *models.LeaveApplication, kind models.NotificationType, title, body string) {
	if s.notifier == nil {
		return
	}
	student, err := s.students.FindByID(ctx, leave.StudentID)
	if err != nil {
		s.logger.Warn("failed to resolve student for leave notification", zap.String("leave_id", leave.ID), zap.Error(err))
		return
	}
	if _, err := s.notifier.Send(ctx, models.NotificationRequest{
		UserID:   student.UserID,
		Channel:  models.ChannelInApp,
		Type:     kind,
		Title:    title,
		Body:     body,
		Metadata: map[string]string{"leave_id": leave.ID},
	}); err != nil {
		s.logger.Warn("failed to notify student", zap.String("leave_id", leave.ID), zap.String("type", string(kind)), zap.Error(err))
	}
}

func (s *LeaveService) notifyApprovers(ctx context.Context, leave *models.LeaveApplication, role models.UserRole, kind models.NotificationType, title, body string) {
	if s.notifier == nil {
		return
	}
	ids, err := s.workflow.ApproverIDs(ctx, leave.HostelID, role)
	if err != nil {
		s.logger.Warn("failed to resolve leave approvers", zap.String("leave_id", leave.ID), zap.String("role", string(role)), zap.Error(err))
		return
	}
	for _, userID := range ids {
		if _, err := s.notifier.Send(ctx, models.NotificationRequest{
			UserID:   userID,
			Channel:  models.ChannelInApp,
			Type:     kind,
			Title:    title,
			Body:     body,
			Metadata: map[string]string{"leave_id": leave.ID},
		}); err != nil {
			s.logger.Warn("failed to notify approver", zap.String("leave_id", leave.ID), zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// canDecide reports whether role may act on step. Without a configured step
// any warden or admin finalises; SUPERADMIN may act on every step.
func canDecide(role models.UserRole, step *models.LeaveApprovalStep) bool {
	if role == models.RoleSuperAdmin {
		return true
	}
	if step == nil {
		return role == models.RoleWarden || role == models.RoleAdmin
	}
	return role == step.ApproverRole
}

func approverRole(step *models.LeaveApprovalStep) models.UserRole {
	if step == nil {
		return models.RoleWarden
	}
	return step.ApproverRole
}

// decisionError maps a lost conditional update to a conflict.
func decisionError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return conflict("leave was decided concurrently")
	}
	return appErrors.Internal(err, "failed to update leave")
}

func validAcademicYear(year string) bool {
	var start, end int
	if _, err := fmt.Sscanf(year, "%4d-%4d", &start, &end); err != nil {
		return false
	}
	return len(year) == 9 && end == start+1
}
