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

// AttendancePolicyRepository stores per-hostel attendance thresholds.
type AttendancePolicyRepository struct {
	db *sqlx.DB
}

// NewAttendancePolicyRepository constructs the repository.
func NewAttendancePolicyRepository(db *sqlx.DB) *AttendancePolicyRepository {
	return &AttendancePolicyRepository{db: db}
}

// FindByHostel returns the hostel's policy or sql.ErrNoRows.
func (r *AttendancePolicyRepository) FindByHostel(ctx context.Context, hostelID string) (*models.AttendancePolicy, error) {
	const query = `SELECT id, hostel_id, minimum_percentage, warning_percentage, late_grace_minutes, check_in_deadline, max_consecutive_absences,
        max_late_per_window, max_corrections_per_record, created_at, updated_at FROM attendance_policies WHERE hostel_id = $1`
	var policy models.AttendancePolicy
	if err := database.Executor(ctx, r.db).GetContext(ctx, &policy, query, hostelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance policy: %w", err)
	}
	return &policy, nil
}

// Upsert creates or replaces the hostel's policy.
func (r *AttendancePolicyRepository) Upsert(ctx context.Context, policy *models.AttendancePolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	const query = `INSERT INTO attendance_policies (id, hostel_id, minimum_percentage, warning_percentage, late_grace_minutes, check_in_deadline,
        max_consecutive_absences, max_late_per_window, max_corrections_per_record, created_at, updated_at)
        VALUES (:id, :hostel_id, :minimum_percentage, :warning_percentage, :late_grace_minutes, :check_in_deadline,
        :max_consecutive_absences, :max_late_per_window, :max_corrections_per_record, :created_at, :updated_at)
        ON CONFLICT (hostel_id) DO UPDATE SET minimum_percentage = EXCLUDED.minimum_percentage, warning_percentage = EXCLUDED.warning_percentage,
        late_grace_minutes = EXCLUDED.late_grace_minutes, check_in_deadline = EXCLUDED.check_in_deadline,
        max_consecutive_absences = EXCLUDED.max_consecutive_absences, max_late_per_window = EXCLUDED.max_late_per_window,
        max_corrections_per_record = EXCLUDED.max_corrections_per_record, updated_at = EXCLUDED.updated_at`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("upsert attendance policy: %w", err)
	}
	return nil
}
