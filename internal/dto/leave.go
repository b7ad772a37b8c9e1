package dto

import "github.com/noah-isme/hostel-api/internal/models"

// ApplyLeaveRequest submits a leave application.
type ApplyLeaveRequest struct {
	LeaveType    models.LeaveType `json:"leave_type" validate:"required,oneof=CASUAL MEDICAL EMERGENCY HOME_VISIT OTHER"`
	FromDate     string           `json:"from_date" validate:"required,date"`
	ToDate       string           `json:"to_date" validate:"required,date"`
	Reason       string           `json:"reason" validate:"required,min=5,max=1000"`
	Destination  string           `json:"destination" validate:"max=255"`
	ContactPhone string           `json:"contact_phone" validate:"omitempty,e164"`
}

// LeaveDecisionRequest carries an approver's comment.
type LeaveDecisionRequest struct {
	Comment string `json:"comment" validate:"max=1000"`
}

// RejectLeaveRequest requires a reason.
type RejectLeaveRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=1000"`
}

// CancelLeaveRequest is the owner's cancellation.
type CancelLeaveRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// AllocateBalanceRequest sets a student's allowance for a type and year.
type AllocateBalanceRequest struct {
	StudentID        string           `json:"student_id" validate:"required,uuid4"`
	LeaveType        models.LeaveType `json:"leave_type" validate:"required,oneof=CASUAL MEDICAL EMERGENCY HOME_VISIT OTHER"`
	AcademicYear     string           `json:"academic_year" validate:"omitempty,len=9"`
	AllocatedDays    int              `json:"allocated_days" validate:"gte=0,lte=365"`
	CarryForwardDays int              `json:"carry_forward_days" validate:"gte=0,lte=365"`
}

// ApprovalStepInput defines one level of an approval chain.
type ApprovalStepInput struct {
	StepOrder    int             `json:"step_order" validate:"gt=0"`
	ApproverRole models.UserRole `json:"approver_role" validate:"required,oneof=SUPERADMIN ADMIN WARDEN"`
	MinDays      int             `json:"min_days" validate:"gte=0"`
}

// ReplaceStepsRequest swaps a hostel's chain for one leave type.
type ReplaceStepsRequest struct {
	Steps []ApprovalStepInput `json:"steps" validate:"max=5,dive"`
}
