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

const alertColumns = "id, student_id, hostel_id, alert_type, severity, message, triggered_by, created_by, status, acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution_note, created_at"

// AttendanceAlertRepository persists attendance alerts.
type AttendanceAlertRepository struct {
	db *sqlx.DB
}

// NewAttendanceAlertRepository constructs the repository.
func NewAttendanceAlertRepository(db *sqlx.DB) *AttendanceAlertRepository {
	return &AttendanceAlertRepository{db: db}
}

// Create inserts an alert.
func (r *AttendanceAlertRepository) Create(ctx context.Context, alert *models.AttendanceAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusOpen
	}
	alert.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO attendance_alerts (id, student_id, hostel_id, alert_type, severity, message, triggered_by, created_by, status, created_at)
        VALUES (:id, :student_id, :hostel_id, :alert_type, :severity, :message, :triggered_by, :created_by, :status, :created_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, alert); err != nil {
		return fmt.Errorf("create attendance alert: %w", err)
	}
	return nil
}

// FindByID returns an alert by identifier.
func (r *AttendanceAlertRepository) FindByID(ctx context.Context, id string) (*models.AttendanceAlert, error) {
	var alert models.AttendanceAlert
	if err := database.Executor(ctx, r.db).GetContext(ctx, &alert, "SELECT "+alertColumns+" FROM attendance_alerts WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance alert: %w", err)
	}
	return &alert, nil
}

// HasUnresolved reports whether an OPEN or ACKNOWLEDGED alert of the given
// type exists for the student.
func (r *AttendanceAlertRepository) HasUnresolved(ctx context.Context, studentID string, alertType models.AlertType) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendance_alerts WHERE student_id = $1 AND alert_type = $2 AND status IN ('OPEN', 'ACKNOWLEDGED'))`
	var exists bool
	if err := database.Executor(ctx, r.db).GetContext(ctx, &exists, query, studentID, alertType); err != nil {
		return false, fmt.Errorf("check open alerts: %w", err)
	}
	return exists, nil
}

// List returns alerts matching filter, newest first.
func (r *AttendanceAlertRepository) List(ctx context.Context, filter models.AttendanceAlertFilter) ([]models.AttendanceAlert, int, error) {
	var where whereBuilder
	if filter.HostelID != "" {
		where.add("hostel_id = $%d", filter.HostelID)
	}
	if filter.StudentID != "" {
		where.add("student_id = $%d", filter.StudentID)
	}
	if filter.Status != nil {
		where.add("status = $%d", *filter.Status)
	}
	if filter.AlertType != nil {
		where.add("alert_type = $%d", *filter.AlertType)
	}
	base := "FROM attendance_alerts WHERE 1=1" + where.sql()
	exec := database.Executor(ctx, r.db)

	var alerts []models.AttendanceAlert
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC %s", alertColumns, base, pageWindow(filter.Page, filter.PageSize))
	if err := exec.SelectContext(ctx, &alerts, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance alerts: %w", err)
	}
	var total int
	if err := exec.GetContext(ctx, &total, "SELECT COUNT(*) "+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance alerts: %w", err)
	}
	return alerts, total, nil
}

// CountOpenByHostel counts unresolved alerts in a hostel.
func (r *AttendanceAlertRepository) CountOpenByHostel(ctx context.Context, hostelID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM attendance_alerts WHERE hostel_id = $1 AND status IN ('OPEN', 'ACKNOWLEDGED')`
	if err := database.Executor(ctx, r.db).GetContext(ctx, &count, query, hostelID); err != nil {
		return 0, fmt.Errorf("count open alerts: %w", err)
	}
	return count, nil
}

// Transition moves an alert from one status to another. sql.ErrNoRows means
// the alert was no longer in the expected status.
func (r *AttendanceAlertRepository) Transition(ctx context.Context, id string, from, to models.AlertStatus, actorID string, note *string, at time.Time) error {
	var query string
	args := []interface{}{id, from, to, actorID, at}
	switch to {
	case models.AlertStatusAcknowledged:
		query = `UPDATE attendance_alerts SET status = $3, acknowledged_by = $4, acknowledged_at = $5 WHERE id = $1 AND status = $2`
	case models.AlertStatusResolved:
		query = `UPDATE attendance_alerts SET status = $3, resolved_by = $4, resolved_at = $5, resolution_note = $6 WHERE id = $1 AND status = $2`
		args = append(args, note)
	default:
		return fmt.Errorf("unsupported alert transition to %s", to)
	}
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition attendance alert: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
