package dto

import (
	"time"

	"github.com/noah-isme/hostel-api/internal/models"
)

// MarkAttendanceRequest records one student's attendance for a day. Status may
// be omitted when a check-in time is given.
type MarkAttendanceRequest struct {
	StudentID   string                  `json:"student_id" validate:"required,uuid4"`
	Date        string                  `json:"date" validate:"required,date"`
	Status      models.AttendanceStatus `json:"status" validate:"omitempty,oneof=PRESENT ABSENT LATE ON_LEAVE"`
	CheckInTime *time.Time              `json:"check_in_time"`
	Remarks     string                  `json:"remarks" validate:"max=500"`
}

// BulkAttendanceItem is one row of a bulk mark.
type BulkAttendanceItem struct {
	StudentID   string                  `json:"student_id" validate:"required,uuid4"`
	Status      models.AttendanceStatus `json:"status" validate:"omitempty,oneof=PRESENT ABSENT LATE ON_LEAVE"`
	CheckInTime *time.Time              `json:"check_in_time"`
	Remarks     string                  `json:"remarks" validate:"max=500"`
}

// BulkAttendanceRequest marks a hostel's attendance for a day.
type BulkAttendanceRequest struct {
	Date  string                   `json:"date" validate:"required,date"`
	Mode  models.BulkOperationMode `json:"mode" validate:"omitempty,oneof=atomic partialOnError"`
	Items []BulkAttendanceItem     `json:"items" validate:"required,min=1,max=500,dive"`
}

// CorrectAttendanceRequest amends an existing record.
type CorrectAttendanceRequest struct {
	Status       *models.AttendanceStatus `json:"status" validate:"omitempty,oneof=PRESENT ABSENT LATE ON_LEAVE"`
	CheckInTime  *time.Time               `json:"check_in_time"`
	CheckOutTime *time.Time               `json:"check_out_time"`
	Reason       string                   `json:"reason" validate:"required,min=3,max=500"`
}

// CheckOutRequest stamps a check-out time.
type CheckOutRequest struct {
	CheckOutTime *time.Time `json:"check_out_time"`
}

// AttendancePolicyRequest sets a hostel's attendance thresholds.
type AttendancePolicyRequest struct {
	MinimumPercentage       float64 `json:"minimum_percentage" validate:"gte=0,lte=100"`
	WarningPercentage       float64 `json:"warning_percentage" validate:"gtefield=MinimumPercentage,lte=100"`
	LateGraceMinutes        int     `json:"late_grace_minutes" validate:"gte=0,lte=240"`
	CheckInDeadline         string  `json:"check_in_deadline" validate:"required,hhmm"`
	MaxConsecutiveAbsences  int     `json:"max_consecutive_absences" validate:"gt=0"`
	MaxLatePerWindow        int     `json:"max_late_per_window" validate:"gt=0"`
	MaxCorrectionsPerRecord int     `json:"max_corrections_per_record" validate:"gte=0"`
}

// CreateAlertRequest raises a manual alert.
type CreateAlertRequest struct {
	StudentID string               `json:"student_id" validate:"required,uuid4"`
	Severity  models.AlertSeverity `json:"severity" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Message   string               `json:"message" validate:"required,max=1000"`
}

// ResolveAlertRequest closes an alert.
type ResolveAlertRequest struct {
	Note string `json:"note" validate:"required,max=1000"`
}

// DateRangeQuery is the common from/to query pair.
type DateRangeQuery struct {
	From string `form:"from" validate:"omitempty,date"`
	To   string `form:"to" validate:"omitempty,date"`
}
