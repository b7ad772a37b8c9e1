package models

import (
	"fmt"
	"time"
)

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusOnLeave AttendanceStatus = "ON_LEAVE"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusOnLeave:
		return true
	default:
		return false
	}
}

// BulkOperationMode controls how bulk writes behave on errors.
type BulkOperationMode string

const (
	BulkModeAtomic         BulkOperationMode = "atomic"
	BulkModePartialOnError BulkOperationMode = "partialOnError"
)

// AttendanceRecord is one student's attendance for one day.
type AttendanceRecord struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	HostelID        string           `db:"hostel_id" json:"hostel_id"`
	AttendanceDate  time.Time        `db:"attendance_date" json:"attendance_date"`
	Status          AttendanceStatus `db:"status" json:"status"`
	CheckInTime     *time.Time       `db:"check_in_time" json:"check_in_time,omitempty"`
	CheckOutTime    *time.Time       `db:"check_out_time" json:"check_out_time,omitempty"`
	Remarks         *string          `db:"remarks" json:"remarks,omitempty"`
	MarkedBy        *string          `db:"marked_by" json:"marked_by,omitempty"`
	CorrectionCount int              `db:"correction_count" json:"correction_count"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail adds student identity for listings and exports.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string `db:"student_name" json:"student_name"`
	RollNumber  string `db:"roll_number" json:"roll_number"`
	RoomNumber  string `db:"room_number" json:"room_number"`
}

// AttendanceFilter defines query filters.
type AttendanceFilter struct {
	HostelID  string
	StudentID string
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// AttendanceSummary aggregates a student's attendance over a range.
type AttendanceSummary struct {
	StudentID  string    `json:"student_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Present    int       `db:"present" json:"present"`
	Absent     int       `db:"absent" json:"absent"`
	Late       int       `db:"late" json:"late"`
	OnLeave    int       `db:"on_leave" json:"on_leave"`
	Total      int       `db:"total" json:"total"`
	Percentage float64   `json:"percentage"`
}

// ComputePercentage sets Percentage to attended days over counted days, where
// days on leave are not counted. An empty range scores 100.
func (s *AttendanceSummary) ComputePercentage() {
	counted := s.Total - s.OnLeave
	if counted <= 0 {
		s.Percentage = 100
		return
	}
	s.Percentage = Round2(float64(s.Present+s.Late) / float64(counted) * 100)
}

// AttendanceBulkConflict captures failed bulk operations.
type AttendanceBulkConflict struct {
	StudentID string    `json:"student_id"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
}

// AttendanceBulkResult reports the outcome of a bulk mark.
type AttendanceBulkResult struct {
	Created   []AttendanceRecord       `json:"created"`
	Conflicts []AttendanceBulkConflict `json:"conflicts,omitempty"`
}

// AttendancePolicy holds per-hostel attendance thresholds.
type AttendancePolicy struct {
	ID                      string    `db:"id" json:"id"`
	HostelID                string    `db:"hostel_id" json:"hostel_id"`
	MinimumPercentage       float64   `db:"minimum_percentage" json:"minimum_percentage"`
	WarningPercentage       float64   `db:"warning_percentage" json:"warning_percentage"`
	LateGraceMinutes        int       `db:"late_grace_minutes" json:"late_grace_minutes"`
	CheckInDeadline         string    `db:"check_in_deadline" json:"check_in_deadline"`
	MaxConsecutiveAbsences  int       `db:"max_consecutive_absences" json:"max_consecutive_absences"`
	MaxLatePerWindow        int       `db:"max_late_per_window" json:"max_late_per_window"`
	MaxCorrectionsPerRecord int       `db:"max_corrections_per_record" json:"max_corrections_per_record"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultAttendancePolicy is applied to hostels without a stored policy.
func DefaultAttendancePolicy(hostelID string) AttendancePolicy {
	return AttendancePolicy{
		HostelID:                hostelID,
		MinimumPercentage:       75,
		WarningPercentage:       85,
		LateGraceMinutes:        15,
		CheckInDeadline:         "21:00",
		MaxConsecutiveAbsences:  3,
		MaxLatePerWindow:        5,
		MaxCorrectionsPerRecord: 2,
	}
}

// LateCutoff returns the moment after which a check-in on day counts as late.
// The deadline is read as wall-clock time in loc; a nil loc means UTC.
func (p AttendancePolicy) LateCutoff(day time.Time, loc *time.Location) (time.Time, error) {
	deadline, err := time.Parse("15:04", p.CheckInDeadline)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid check-in deadline %q: %w", p.CheckInDeadline, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.Date()
	cutoff := time.Date(y, m, d, deadline.Hour(), deadline.Minute(), 0, 0, loc)
	return cutoff.Add(time.Duration(p.LateGraceMinutes) * time.Minute), nil
}

// AlertType classifies attendance alerts.
type AlertType string

const (
	AlertTypeLowAttendance      AlertType = "LOW_ATTENDANCE"
	AlertTypeConsecutiveAbsence AlertType = "CONSECUTIVE_ABSENCE"
	AlertTypeExcessiveLate      AlertType = "EXCESSIVE_LATE"
	AlertTypeManual             AlertType = "MANUAL"
)

// AlertSeverity ranks alert urgency.
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "LOW"
	AlertSeverityMedium   AlertSeverity = "MEDIUM"
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// AlertStatus tracks alert handling.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "OPEN"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
)

// CanTransition reports whether an alert may move from s to next.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case AlertStatusOpen:
		return next == AlertStatusAcknowledged || next == AlertStatusResolved
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	}
	return false
}

// AlertTrigger records who raised an alert.
type AlertTrigger string

const (
	AlertTriggerSystem AlertTrigger = "SYSTEM"
	AlertTriggerUser   AlertTrigger = "USER"
)

// AttendanceAlert flags a student whose attendance needs attention.
type AttendanceAlert struct {
	ID             string        `db:"id" json:"id"`
	StudentID      string        `db:"student_id" json:"student_id"`
	HostelID       string        `db:"hostel_id" json:"hostel_id"`
	AlertType      AlertType     `db:"alert_type" json:"alert_type"`
	Severity       AlertSeverity `db:"severity" json:"severity"`
	Message        string        `db:"message" json:"message"`
	TriggeredBy    AlertTrigger  `db:"triggered_by" json:"triggered_by"`
	CreatedBy      *string       `db:"created_by" json:"created_by,omitempty"`
	Status         AlertStatus   `db:"status" json:"status"`
	AcknowledgedBy *string       `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedBy     *string       `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNote *string       `db:"resolution_note" json:"resolution_note,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// AttendanceAlertFilter scopes alert listings.
type AttendanceAlertFilter struct {
	HostelID  string
	StudentID string
	Status    *AlertStatus
	AlertType *AlertType
	Page      int
	PageSize  int
}

// PolicyEvaluationResult summarises a policy sweep over a hostel.
type PolicyEvaluationResult struct {
	HostelID         string            `json:"hostel_id"`
	AsOf             time.Time         `json:"as_of"`
	StudentsChecked  int               `json:"students_checked"`
	AlertsCreated    []AttendanceAlert `json:"alerts_created"`
	SkippedDuplicate int               `json:"skipped_duplicate"`
}
