package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
)

// LeaveWorkflowRepository stores approval chain definitions.
type LeaveWorkflowRepository struct {
	db *sqlx.DB
}

// NewLeaveWorkflowRepository constructs the repository.
func NewLeaveWorkflowRepository(db *sqlx.DB) *LeaveWorkflowRepository {
	return &LeaveWorkflowRepository{db: db}
}

// ListSteps returns the chain for a hostel and leave type ordered by step.
func (r *LeaveWorkflowRepository) ListSteps(ctx context.Context, hostelID string, leaveType models.LeaveType) ([]models.LeaveApprovalStep, error) {
	const query = `SELECT id, hostel_id, leave_type, step_order, approver_role, min_days, created_at FROM leave_approval_steps
        WHERE hostel_id = $1 AND leave_type = $2 ORDER BY step_order`
	var steps []models.LeaveApprovalStep
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &steps, query, hostelID, leaveType); err != nil {
		return nil, fmt.Errorf("list approval steps: %w", err)
	}
	return steps, nil
}

// ReplaceSteps deletes the existing chain and inserts steps. Callers run it
// inside a unit of work.
func (r *LeaveWorkflowRepository) ReplaceSteps(ctx context.Context, hostelID string, leaveType models.LeaveType, steps []models.LeaveApprovalStep) error {
	exec := database.Executor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, `DELETE FROM leave_approval_steps WHERE hostel_id = $1 AND leave_type = $2`, hostelID, leaveType); err != nil {
		return fmt.Errorf("clear approval steps: %w", err)
	}
	const insert = `INSERT INTO leave_approval_steps (id, hostel_id, leave_type, step_order, approver_role, min_days, created_at)
        VALUES (:id, :hostel_id, :leave_type, :step_order, :approver_role, :min_days, :created_at)`
	now := time.Now().UTC()
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.HostelID = hostelID
		step.LeaveType = leaveType
		step.CreatedAt = now
		if _, err := exec.NamedExecContext(ctx, insert, step); err != nil {
			return fmt.Errorf("insert approval step %d: %w", step.StepOrder, err)
		}
	}
	return nil
}

// ApproverIDs resolves the users who act for role in a hostel: the hostel's
// warden for WARDEN, otherwise every active user holding the role.
func (r *LeaveWorkflowRepository) ApproverIDs(ctx context.Context, hostelID string, role models.UserRole) ([]string, error) {
	var (
		ids   []string
		query string
		args  []interface{}
	)
	if role == models.RoleWarden {
		query = `SELECT u.id FROM hostels h JOIN users u ON u.id = h.warden_id WHERE h.id = $1 AND u.active = TRUE`
		args = append(args, hostelID)
	} else {
		query = `SELECT id FROM users WHERE role = $1 AND active = TRUE ORDER BY created_at`
		args = append(args, role)
	}
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("resolve approvers: %w", err)
	}
	return ids, nil
}
