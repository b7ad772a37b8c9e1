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

const leaveColumns = `id, student_id, hostel_id, leave_type, from_date, to_date, total_days, reason, destination, contact_phone, status, completed_levels,
        academic_year, attachment_path, applied_at, approved_by, approved_at, rejected_by, rejected_at, rejection_reason, cancelled_by, cancelled_at,
        cancellation_reason, updated_at`

// LeaveRepository persists leave applications and their decision trail.
type LeaveRepository struct {
	db *sqlx.DB
}

// NewLeaveRepository constructs a LeaveRepository.
func NewLeaveRepository(db *sqlx.DB) *LeaveRepository {
	return &LeaveRepository{db: db}
}

// Create inserts a PENDING application.
func (r *LeaveRepository) Create(ctx context.Context, leave *models.LeaveApplication) error {
	if leave.ID == "" {
		leave.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	leave.AppliedAt = now
	leave.UpdatedAt = now
	if leave.Status == "" {
		leave.Status = models.LeaveStatusPending
	}
	const query = `INSERT INTO leave_applications (id, student_id, hostel_id, leave_type, from_date, to_date, total_days, reason, destination, contact_phone,
        status, completed_levels, academic_year, applied_at, updated_at)
        VALUES (:id, :student_id, :hostel_id, :leave_type, :from_date, :to_date, :total_days, :reason, :destination, :contact_phone,
        :status, :completed_levels, :academic_year, :applied_at, :updated_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, leave); err != nil {
		return fmt.Errorf("create leave: %w", err)
	}
	return nil
}

// FindByID returns an application by identifier.
func (r *LeaveRepository) FindByID(ctx context.Context, id string) (*models.LeaveApplication, error) {
	return r.find(ctx, "SELECT "+leaveColumns+" FROM leave_applications WHERE id = $1", id)
}

// FindForUpdate loads an application and locks it for the surrounding transaction.
func (r *LeaveRepository) FindForUpdate(ctx context.Context, id string) (*models.LeaveApplication, error) {
	return r.find(ctx, "SELECT "+leaveColumns+" FROM leave_applications WHERE id = $1 FOR UPDATE", id)
}

func (r *LeaveRepository) find(ctx context.Context, query, id string) (*models.LeaveApplication, error) {
	var leave models.LeaveApplication
	if err := database.Executor(ctx, r.db).GetContext(ctx, &leave, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find leave: %w", err)
	}
	return &leave, nil
}

// HasOverlap reports whether the student holds a PENDING or APPROVED leave
// intersecting [from, to].
func (r *LeaveRepository) HasOverlap(ctx context.Context, studentID string, from, to time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM leave_applications WHERE student_id = $1 AND status IN ('PENDING', 'APPROVED')
        AND from_date <= $3 AND to_date >= $2)`
	var exists bool
	if err := database.Executor(ctx, r.db).GetContext(ctx, &exists, query, studentID, from, to); err != nil {
		return false, fmt.Errorf("check leave overlap: %w", err)
	}
	return exists, nil
}

// List returns applications matching filter.
func (r *LeaveRepository) List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveApplication, int, error) {
	var where whereBuilder
	if filter.StudentID != "" {
		where.add("student_id = $%d", filter.StudentID)
	}
	if filter.HostelID != "" {
		where.add("hostel_id = $%d", filter.HostelID)
	}
	if filter.Status != nil {
		where.add("status = $%d", *filter.Status)
	}
	if filter.LeaveType != nil {
		where.add("leave_type = $%d", *filter.LeaveType)
	}
	if filter.AcademicYear != "" {
		where.add("academic_year = $%d", filter.AcademicYear)
	}
	if filter.DateFrom != nil {
		where.add("to_date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where.add("from_date <= $%d", *filter.DateTo)
	}
	base := "FROM leave_applications WHERE 1=1" + where.sql()
	order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"applied_at": "applied_at",
		"from_date":  "from_date",
		"total_days": "total_days",
	}, "applied_at")

	exec := database.Executor(ctx, r.db)
	var leaves []models.LeaveApplication
	query := fmt.Sprintf("SELECT %s %s %s %s", leaveColumns, base, order, pageWindow(filter.Page, filter.PageSize))
	if err := exec.SelectContext(ctx, &leaves, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list leaves: %w", err)
	}
	var total int
	if err := exec.GetContext(ctx, &total, "SELECT COUNT(*) "+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count leaves: %w", err)
	}
	return leaves, total, nil
}

// ListPending returns PENDING applications, oldest first, optionally scoped to a hostel.
func (r *LeaveRepository) ListPending(ctx context.Context, hostelID string, limit int) ([]models.LeaveApplication, error) {
	query := "SELECT " + leaveColumns + " FROM leave_applications WHERE status = 'PENDING'"
	var args []interface{}
	if hostelID != "" {
		query += " AND hostel_id = $1"
		args = append(args, hostelID)
	}
	query += fmt.Sprintf(" ORDER BY applied_at ASC LIMIT %d", limit)
	var leaves []models.LeaveApplication
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &leaves, query, args...); err != nil {
		return nil, fmt.Errorf("list pending leaves: %w", err)
	}
	return leaves, nil
}

// ListOverdue returns PENDING applications submitted before cutoff.
func (r *LeaveRepository) ListOverdue(ctx context.Context, cutoff time.Time) ([]models.LeaveApplication, error) {
	query := "SELECT " + leaveColumns + " FROM leave_applications WHERE status = 'PENDING' AND applied_at < $1 ORDER BY applied_at ASC"
	var leaves []models.LeaveApplication
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &leaves, query, cutoff); err != nil {
		return nil, fmt.Errorf("list overdue leaves: %w", err)
	}
	return leaves, nil
}

// AdvanceLevel moves completed_levels from expectedLevel to the step order
// just approved. The update only applies while the application is PENDING at
// expectedLevel, so a concurrent decision on the same step yields sql.ErrNoRows.
func (r *LeaveRepository) AdvanceLevel(ctx context.Context, id string, expectedLevel, level int, at time.Time) error {
	const query = `UPDATE leave_applications SET completed_levels = $3, updated_at = $4
        WHERE id = $1 AND status = 'PENDING' AND completed_levels = $2`
	return r.execOne(ctx, "advance leave level", query, id, expectedLevel, level, at)
}

// MarkApproved finalises an application at expectedLevel.
func (r *LeaveRepository) MarkApproved(ctx context.Context, id string, expectedLevel, level int, approverID string, at time.Time) error {
	const query = `UPDATE leave_applications SET status = 'APPROVED', completed_levels = $3, approved_by = $4, approved_at = $5, updated_at = $5
        WHERE id = $1 AND status = 'PENDING' AND completed_levels = $2`
	return r.execOne(ctx, "approve leave", query, id, expectedLevel, level, approverID, at)
}

// MarkRejected closes a PENDING application at expectedLevel.
func (r *LeaveRepository) MarkRejected(ctx context.Context, id string, expectedLevel int, approverID, reason string, at time.Time) error {
	const query = `UPDATE leave_applications SET status = 'REJECTED', rejected_by = $3, rejection_reason = $4, rejected_at = $5, updated_at = $5
        WHERE id = $1 AND status = 'PENDING' AND completed_levels = $2`
	return r.execOne(ctx, "reject leave", query, id, expectedLevel, approverID, reason, at)
}

// MarkCancelled cancels an application currently in status from.
func (r *LeaveRepository) MarkCancelled(ctx context.Context, id string, from models.LeaveStatus, by string, reason *string, at time.Time) error {
	const query = `UPDATE leave_applications SET status = 'CANCELLED', cancelled_by = $3, cancellation_reason = $4, cancelled_at = $5, updated_at = $5
        WHERE id = $1 AND status = $2`
	return r.execOne(ctx, "cancel leave", query, id, from, by, reason, at)
}

// SetAttachment stores the attachment key for an application.
func (r *LeaveRepository) SetAttachment(ctx context.Context, id, path string) error {
	const query = `UPDATE leave_applications SET attachment_path = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "set leave attachment", query, id, path, time.Now().UTC())
}

// CreateApproval inserts a step decision. UNIQUE (leave_id, step_order)
// rejects a second decision on the same step.
func (r *LeaveRepository) CreateApproval(ctx context.Context, approval *models.LeaveApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.DecidedAt.IsZero() {
		approval.DecidedAt = time.Now().UTC()
	}
	const query = `INSERT INTO leave_approvals (id, leave_id, step_order, approver_id, decision, comment, decided_at)
        VALUES (:id, :leave_id, :step_order, :approver_id, :decision, :comment, :decided_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, approval); err != nil {
		return fmt.Errorf("create leave approval: %w", err)
	}
	return nil
}

// ListApprovals returns the decision trail ordered by step.
func (r *LeaveRepository) ListApprovals(ctx context.Context, leaveID string) ([]models.LeaveApproval, error) {
	const query = `SELECT id, leave_id, step_order, approver_id, decision, comment, decided_at FROM leave_approvals WHERE leave_id = $1 ORDER BY step_order`
	var approvals []models.LeaveApproval
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &approvals, query, leaveID); err != nil {
		return nil, fmt.Errorf("list leave approvals: %w", err)
	}
	return approvals, nil
}

func (r *LeaveRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
