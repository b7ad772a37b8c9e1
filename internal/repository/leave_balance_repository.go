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

const balanceColumns = "id, student_id, leave_type, academic_year, allocated_days, carry_forward_days, used_days, pending_days, remaining_days, updated_at"

// LeaveBalanceRepository tracks leave allowances. Every write keeps
// remaining_days = allocated + carry_forward - used - pending, which the
// chk_leave_balance_arithmetic constraint also enforces.
type LeaveBalanceRepository struct {
	db *sqlx.DB
}

// NewLeaveBalanceRepository constructs the repository.
func NewLeaveBalanceRepository(db *sqlx.DB) *LeaveBalanceRepository {
	return &LeaveBalanceRepository{db: db}
}

// Find returns the balance for a student, type and academic year.
func (r *LeaveBalanceRepository) Find(ctx context.Context, studentID string, leaveType models.LeaveType, year string) (*models.LeaveBalance, error) {
	return r.find(ctx, "SELECT "+balanceColumns+" FROM leave_balances WHERE student_id = $1 AND leave_type = $2 AND academic_year = $3", studentID, leaveType, year)
}

// FindForUpdate is Find with a row lock held until the transaction ends.
func (r *LeaveBalanceRepository) FindForUpdate(ctx context.Context, studentID string, leaveType models.LeaveType, year string) (*models.LeaveBalance, error) {
	return r.find(ctx, "SELECT "+balanceColumns+" FROM leave_balances WHERE student_id = $1 AND leave_type = $2 AND academic_year = $3 FOR UPDATE", studentID, leaveType, year)
}

func (r *LeaveBalanceRepository) find(ctx context.Context, query string, args ...interface{}) (*models.LeaveBalance, error) {
	var balance models.LeaveBalance
	if err := database.Executor(ctx, r.db).GetContext(ctx, &balance, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find leave balance: %w", err)
	}
	return &balance, nil
}

// ListByStudent returns all balances of a student for a year.
func (r *LeaveBalanceRepository) ListByStudent(ctx context.Context, studentID, year string) ([]models.LeaveBalance, error) {
	query := "SELECT " + balanceColumns + " FROM leave_balances WHERE student_id = $1 AND academic_year = $2 ORDER BY leave_type"
	var balances []models.LeaveBalance
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &balances, query, studentID, year); err != nil {
		return nil, fmt.Errorf("list leave balances: %w", err)
	}
	return balances, nil
}

// UpsertAllocation sets allocated and carry-forward days, keeping used and
// pending days of an existing row. The stored row is written back into balance.
func (r *LeaveBalanceRepository) UpsertAllocation(ctx context.Context, balance *models.LeaveBalance) error {
	if balance.ID == "" {
		balance.ID = uuid.NewString()
	}
	balance.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO leave_balances (id, student_id, leave_type, academic_year, allocated_days, carry_forward_days, used_days, pending_days, remaining_days, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $5 + $6, $7)
        ON CONFLICT (student_id, leave_type, academic_year) DO UPDATE SET
            allocated_days = EXCLUDED.allocated_days,
            carry_forward_days = EXCLUDED.carry_forward_days,
            remaining_days = EXCLUDED.allocated_days + EXCLUDED.carry_forward_days - leave_balances.used_days - leave_balances.pending_days,
            updated_at = EXCLUDED.updated_at
        RETURNING ` + balanceColumns
	row := database.Executor(ctx, r.db).QueryRowxContext(ctx, query, balance.ID, balance.StudentID, balance.LeaveType, balance.AcademicYear,
		balance.AllocatedDays, balance.CarryForwardDays, balance.UpdatedAt)
	if err := row.StructScan(balance); err != nil {
		return fmt.Errorf("upsert leave balance: %w", err)
	}
	return nil
}

// Adjust shifts pending and used days by the given deltas and recomputes
// remaining days in the same statement.
func (r *LeaveBalanceRepository) Adjust(ctx context.Context, id string, pendingDelta, usedDelta int) error {
	const query = `UPDATE leave_balances SET pending_days = pending_days + $2, used_days = used_days + $3,
        remaining_days = remaining_days - $2 - $3, updated_at = $4 WHERE id = $1`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, pendingDelta, usedDelta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust leave balance: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
