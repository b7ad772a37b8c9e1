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

const attendanceColumns = "id, student_id, hostel_id, attendance_date, status, check_in_time, check_out_time, remarks, marked_by, correction_count, created_at, updated_at"

// AttendanceRepository persists daily hostel attendance.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Create inserts a record. A second record for the same student and date
// fails on the uq_attendance_student_date constraint.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	const query = `INSERT INTO attendance_records (id, student_id, hostel_id, attendance_date, status, check_in_time, check_out_time, remarks, marked_by, correction_count, created_at, updated_at)
        VALUES (:id, :student_id, :hostel_id, :attendance_date, :status, :check_in_time, :check_out_time, :remarks, :marked_by, :correction_count, :created_at, :updated_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	return nil
}

// ExistsForDate reports whether the student already has a record on date.
func (r *AttendanceRepository) ExistsForDate(ctx context.Context, studentID string, date time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE student_id = $1 AND attendance_date = $2)`
	var exists bool
	if err := database.Executor(ctx, r.db).GetContext(ctx, &exists, query, studentID, date); err != nil {
		return false, fmt.Errorf("check attendance exists: %w", err)
	}
	return exists, nil
}

// FindByID returns a record by identifier.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := "SELECT " + attendanceColumns + " FROM attendance_records WHERE id = $1"
	var record models.AttendanceRecord
	if err := database.Executor(ctx, r.db).GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &record, nil
}

// FindForUpdate loads a record and locks it for the surrounding transaction.
func (r *AttendanceRepository) FindForUpdate(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := "SELECT " + attendanceColumns + " FROM attendance_records WHERE id = $1 FOR UPDATE"
	var record models.AttendanceRecord
	if err := database.Executor(ctx, r.db).GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock attendance: %w", err)
	}
	return &record, nil
}

// ApplyCorrection writes corrected fields and bumps correction_count.
func (r *AttendanceRepository) ApplyCorrection(ctx context.Context, record *models.AttendanceRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE attendance_records SET status = :status, check_in_time = :check_in_time, check_out_time = :check_out_time, remarks = :remarks,
        correction_count = correction_count + 1, updated_at = :updated_at WHERE id = :id`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("correct attendance: %w", err)
	}
	record.CorrectionCount++
	return nil
}

// SetCheckOut stamps the check-out time.
func (r *AttendanceRepository) SetCheckOut(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE attendance_records SET check_out_time = $2, updated_at = $3 WHERE id = $1`
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("check out attendance: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns attendance joined with student identity.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	var where whereBuilder
	if filter.HostelID != "" {
		where.add("a.hostel_id = $%d", filter.HostelID)
	}
	if filter.StudentID != "" {
		where.add("a.student_id = $%d", filter.StudentID)
	}
	if filter.Status != nil {
		where.add("a.status = $%d", *filter.Status)
	}
	if filter.DateFrom != nil {
		where.add("a.attendance_date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where.add("a.attendance_date <= $%d", *filter.DateTo)
	}
	base := `FROM attendance_records a
        JOIN students s ON s.id = a.student_id
        JOIN users u ON u.id = s.user_id
        WHERE 1=1` + where.sql()

	order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"date":        "a.attendance_date",
		"status":      "a.status",
		"roll_number": "s.roll_number",
	}, "date")

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.hostel_id, a.attendance_date, a.status, a.check_in_time, a.check_out_time, a.remarks, a.marked_by,
        a.correction_count, a.created_at, a.updated_at, u.full_name AS student_name, s.roll_number, s.room_number
        %s %s, s.roll_number ASC %s`, base, order, pageWindow(filter.Page, filter.PageSize))

	exec := database.Executor(ctx, r.db)
	var records []models.AttendanceRecordDetail
	if err := exec.SelectContext(ctx, &records, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	var total int
	if err := exec.GetContext(ctx, &total, "SELECT COUNT(*) "+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return records, total, nil
}

// Summary counts a student's records per status between from and to.
func (r *AttendanceRepository) Summary(ctx context.Context, studentID string, from, to time.Time) (*models.AttendanceSummary, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'PRESENT') AS present,
        COUNT(*) FILTER (WHERE status = 'ABSENT') AS absent,
        COUNT(*) FILTER (WHERE status = 'LATE') AS late,
        COUNT(*) FILTER (WHERE status = 'ON_LEAVE') AS on_leave,
        COUNT(*) AS total
        FROM attendance_records WHERE student_id = $1 AND attendance_date BETWEEN $2 AND $3`
	summary := models.AttendanceSummary{StudentID: studentID, From: from, To: to}
	if err := database.Executor(ctx, r.db).GetContext(ctx, &summary, query, studentID, from, to); err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	summary.ComputePercentage()
	return &summary, nil
}

// RecentStatuses returns the student's statuses on or before asOf, newest first.
func (r *AttendanceRepository) RecentStatuses(ctx context.Context, studentID string, asOf time.Time, limit int) ([]models.AttendanceStatus, error) {
	query := fmt.Sprintf(`SELECT status FROM attendance_records WHERE student_id = $1 AND attendance_date <= $2 ORDER BY attendance_date DESC LIMIT %d`, limit)
	var statuses []models.AttendanceStatus
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &statuses, query, studentID, asOf); err != nil {
		return nil, fmt.Errorf("recent attendance: %w", err)
	}
	return statuses, nil
}
