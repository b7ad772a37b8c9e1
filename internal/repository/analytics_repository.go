package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
)

// AnalyticsRepository exposes read-optimised queries for attendance analytics.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// DailyCounts aggregates a hostel's attendance per day.
func (r *AnalyticsRepository) DailyCounts(ctx context.Context, hostelID string, from, to time.Time) ([]models.DailyAttendanceCount, error) {
	const query = `SELECT attendance_date,
        COUNT(*) FILTER (WHERE status = 'PRESENT') AS present,
        COUNT(*) FILTER (WHERE status = 'ABSENT') AS absent,
        COUNT(*) FILTER (WHERE status = 'LATE') AS late,
        COUNT(*) FILTER (WHERE status = 'ON_LEAVE') AS on_leave,
        COUNT(*) AS total
        FROM attendance_records WHERE hostel_id = $1 AND attendance_date BETWEEN $2 AND $3
        GROUP BY attendance_date ORDER BY attendance_date`
	var days []models.DailyAttendanceCount
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &days, query, hostelID, from, to); err != nil {
		return nil, fmt.Errorf("query daily attendance: %w", err)
	}
	return days, nil
}

// StudentStats aggregates every active resident of a hostel over a range,
// counting unresolved alerts raised in the same range as violations.
func (r *AnalyticsRepository) StudentStats(ctx context.Context, hostelID string, from, to time.Time) ([]models.StudentAttendanceStats, error) {
	const query = `SELECT s.id AS student_id, u.full_name AS student_name, s.roll_number,
        COUNT(a.id) FILTER (WHERE a.status = 'PRESENT') AS present,
        COUNT(a.id) FILTER (WHERE a.status = 'ABSENT') AS absent,
        COUNT(a.id) FILTER (WHERE a.status = 'LATE') AS late,
        COUNT(a.id) FILTER (WHERE a.status = 'ON_LEAVE') AS on_leave,
        COUNT(a.id) AS total,
        (SELECT COUNT(*) FROM attendance_alerts al WHERE al.student_id = s.id AND al.status IN ('OPEN', 'ACKNOWLEDGED')
            AND al.created_at::date BETWEEN $2 AND $3) AS violations
        FROM students s
        JOIN users u ON u.id = s.user_id
        LEFT JOIN attendance_records a ON a.student_id = s.id AND a.attendance_date BETWEEN $2 AND $3
        WHERE s.hostel_id = $1 AND s.active = TRUE
        GROUP BY s.id, u.full_name, s.roll_number`
	var stats []models.StudentAttendanceStats
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &stats, query, hostelID, from, to); err != nil {
		return nil, fmt.Errorf("query student attendance stats: %w", err)
	}
	return stats, nil
}

// ReportRows returns attendance rows for export ordered by date then roll number.
func (r *AnalyticsRepository) ReportRows(ctx context.Context, hostelID string, from, to time.Time) ([]models.AttendanceRecordDetail, error) {
	const query = `SELECT a.id, a.student_id, a.hostel_id, a.attendance_date, a.status, a.check_in_time, a.check_out_time, a.remarks, a.marked_by,
        a.correction_count, a.created_at, a.updated_at, u.full_name AS student_name, s.roll_number, s.room_number
        FROM attendance_records a
        JOIN students s ON s.id = a.student_id
        JOIN users u ON u.id = s.user_id
        WHERE a.hostel_id = $1 AND a.attendance_date BETWEEN $2 AND $3
        ORDER BY a.attendance_date ASC, s.roll_number ASC`
	var rows []models.AttendanceRecordDetail
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, query, hostelID, from, to); err != nil {
		return nil, fmt.Errorf("query attendance report: %w", err)
	}
	return rows, nil
}
