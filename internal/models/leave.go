package models

import (
	"fmt"
	"time"
)

// LeaveType enumerates leave categories.
type LeaveType string

const (
	LeaveTypeCasual    LeaveType = "CASUAL"
	LeaveTypeMedical   LeaveType = "MEDICAL"
	LeaveTypeEmergency LeaveType = "EMERGENCY"
	LeaveTypeHomeVisit LeaveType = "HOME_VISIT"
	LeaveTypeOther     LeaveType = "OTHER"
)

var leaveTypeCaps = map[LeaveType]int{
	LeaveTypeCasual:    7,
	LeaveTypeMedical:   30,
	LeaveTypeEmergency: 10,
	LeaveTypeHomeVisit: 15,
	LeaveTypeOther:     5,
}

// Valid reports whether the leave type is known.
func (t LeaveType) Valid() bool {
	_, ok := leaveTypeCaps[t]
	return ok
}

// MaxDays is the longest single application allowed for the type.
func (t LeaveType) MaxDays() int {
	return leaveTypeCaps[t]
}

// LeaveStatus captures workflow states for leave applications.
type LeaveStatus string

const (
	LeaveStatusPending   LeaveStatus = "PENDING"
	LeaveStatusApproved  LeaveStatus = "APPROVED"
	LeaveStatusRejected  LeaveStatus = "REJECTED"
	LeaveStatusCancelled LeaveStatus = "CANCELLED"
)

// LeaveApplication is a student's request to be away from the hostel.
// CompletedLevels is the step_order of the last approved step, 0 before any
// decision.
type LeaveApplication struct {
	ID                 string      `db:"id" json:"id"`
	StudentID          string      `db:"student_id" json:"student_id"`
	HostelID           string      `db:"hostel_id" json:"hostel_id"`
	LeaveType          LeaveType   `db:"leave_type" json:"leave_type"`
	FromDate           time.Time   `db:"from_date" json:"from_date"`
	ToDate             time.Time   `db:"to_date" json:"to_date"`
	TotalDays          int         `db:"total_days" json:"total_days"`
	Reason             string      `db:"reason" json:"reason"`
	Destination        string      `db:"destination" json:"destination"`
	ContactPhone       string      `db:"contact_phone" json:"contact_phone"`
	Status             LeaveStatus `db:"status" json:"status"`
	CompletedLevels    int         `db:"completed_levels" json:"completed_levels"`
	AcademicYear       string      `db:"academic_year" json:"academic_year"`
	AttachmentPath     *string     `db:"attachment_path" json:"-"`
	AppliedAt          time.Time   `db:"applied_at" json:"applied_at"`
	ApprovedBy         *string     `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt         *time.Time  `db:"approved_at" json:"approved_at,omitempty"`
	RejectedBy         *string     `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt         *time.Time  `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason    *string     `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancelledBy        *string     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time  `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string     `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// HasAttachment reports whether a supporting document was uploaded.
func (l *LeaveApplication) HasAttachment() bool {
	return l.AttachmentPath != nil && *l.AttachmentPath != ""
}

// LeaveDetail adds the decision trail to an application.
type LeaveDetail struct {
	LeaveApplication
	HasAttachment bool            `json:"has_attachment"`
	Approvals     []LeaveApproval `json:"approvals"`
	NextStep      *int            `json:"next_step,omitempty"`
}

// LeaveFilter scopes leave listings.
type LeaveFilter struct {
	StudentID    string
	HostelID     string
	Status       *LeaveStatus
	LeaveType    *LeaveType
	AcademicYear string
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// LeaveBalance tracks day allowances for a student, type and academic year.
type LeaveBalance struct {
	ID               string    `db:"id" json:"id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	LeaveType        LeaveType `db:"leave_type" json:"leave_type"`
	AcademicYear     string    `db:"academic_year" json:"academic_year"`
	AllocatedDays    int       `db:"allocated_days" json:"allocated_days"`
	CarryForwardDays int       `db:"carry_forward_days" json:"carry_forward_days"`
	UsedDays         int       `db:"used_days" json:"used_days"`
	PendingDays      int       `db:"pending_days" json:"pending_days"`
	RemainingDays    int       `db:"remaining_days" json:"remaining_days"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Available is the number of days that may still be requested.
func (b *LeaveBalance) Available() int {
	return b.AllocatedDays + b.CarryForwardDays - b.UsedDays - b.PendingDays
}

// Recompute derives RemainingDays from its components.
func (b *LeaveBalance) Recompute() {
	b.RemainingDays = b.Available()
}

// LeaveApprovalStep is one level of a hostel's approval chain for a leave type.
type LeaveApprovalStep struct {
	ID           string    `db:"id" json:"id"`
	HostelID     string    `db:"hostel_id" json:"hostel_id"`
	LeaveType    LeaveType `db:"leave_type" json:"leave_type"`
	StepOrder    int       `db:"step_order" json:"step_order"`
	ApproverRole UserRole  `db:"approver_role" json:"approver_role"`
	MinDays      int       `db:"min_days" json:"min_days"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Applies reports whether the step is required for an application of days.
func (s LeaveApprovalStep) Applies(days int) bool {
	return days >= s.MinDays
}

// NextApprovalStep returns the first step after completed that applies to an
// application of days, or nil when the chain is finished. steps must be
// ordered by StepOrder.
func NextApprovalStep(steps []LeaveApprovalStep, completed, days int) *LeaveApprovalStep {
	for i := range steps {
		if steps[i].StepOrder > completed && steps[i].Applies(days) {
			return &steps[i]
		}
	}
	return nil
}

// LeaveDecision is an approver's verdict on a step.
type LeaveDecision string

const (
	LeaveDecisionApproved LeaveDecision = "APPROVED"
	LeaveDecisionRejected LeaveDecision = "REJECTED"
)

// LeaveApproval records a decision at one step.
type LeaveApproval struct {
	ID         string        `db:"id" json:"id"`
	LeaveID    string        `db:"leave_id" json:"leave_id"`
	StepOrder  int           `db:"step_order" json:"step_order"`
	ApproverID string        `db:"approver_id" json:"approver_id"`
	Decision   LeaveDecision `db:"decision" json:"decision"`
	Comment    *string       `db:"comment" json:"comment,omitempty"`
	DecidedAt  time.Time     `db:"decided_at" json:"decided_at"`
}

// LeaveAttachmentLink is a time-limited download URL for an attachment.
type LeaveAttachmentLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcademicYearFor returns the "YYYY-YYYY" academic year containing t. Years
// start on July 1.
func AcademicYearFor(t time.Time) string {
	start := t.Year()
	if t.Month() < time.July {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// InclusiveDays counts calendar days from from to to, both included.
func InclusiveDays(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours()/24) + 1
}
