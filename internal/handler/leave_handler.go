package handler

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/internal/service"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/response"
)

type leaveService interface {
	Apply(ctx context.Context, actor models.Actor, req dto.ApplyLeaveRequest) (*models.LeaveApplication, error)
	Approve(ctx context.Context, actor models.Actor, id string, req dto.LeaveDecisionRequest) (*models.LeaveDetail, error)
	Reject(ctx context.Context, actor models.Actor, id string, req dto.RejectLeaveRequest) (*models.LeaveDetail, error)
	Cancel(ctx context.Context, actor models.Actor, id string, req dto.CancelLeaveRequest) (*models.LeaveApplication, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.LeaveDetail, error)
	List(ctx context.Context, actor models.Actor, filter models.LeaveFilter) ([]models.LeaveApplication, *models.Pagination, error)
	PendingForApprover(ctx context.Context, actor models.Actor, hostelID string, limit int) ([]models.LeaveApplication, error)
	AllocateBalance(ctx context.Context, actor models.Actor, req dto.AllocateBalanceRequest) (*models.LeaveBalance, error)
	GetBalances(ctx context.Context, actor models.Actor, studentID, year string) ([]models.LeaveBalance, error)
	ListSteps(ctx context.Context, hostelID string, leaveType models.LeaveType) ([]models.LeaveApprovalStep, error)
	ReplaceSteps(ctx context.Context, actor models.Actor, hostelID string, leaveType models.LeaveType, req dto.ReplaceStepsRequest) ([]models.LeaveApprovalStep, error)
	UploadAttachment(ctx context.Context, actor models.Actor, id string, file service.LeaveAttachment) (*models.LeaveDetail, error)
	AttachmentURL(ctx context.Context, actor models.Actor, id string) (*models.LeaveAttachmentLink, error)
	ResolveAttachment(ctx context.Context, token string) (*os.File, string, error)
}

// LeaveHandler serves leave applications, balances and approval chains.
type LeaveHandler struct {
	leaves leaveService
}

// NewLeaveHandler constructs LeaveHandler.
func NewLeaveHandler(leaves leaveService) *LeaveHandler {
	return &LeaveHandler{leaves: leaves}
}

// Apply godoc
// @Summary Apply for leave
// @Tags Leave
// @Accept json
// @Produce json
// @Param payload body dto.ApplyLeaveRequest true "Leave application"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves [post]
func (h *LeaveHandler) Apply(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ApplyLeaveRequest
	if !bindJSON(c, &req, "invalid leave payload") {
		return
	}
	leave, err := h.leaves.Apply(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, leave)
}

// List godoc
// @Summary List leave applications
// @Description Students only see their own applications.
// @Tags Leave
// @Produce json
// @Param student_id query string false "Student"
// @Param hostel_id query string false "Hostel"
// @Param status query string false "Status"
// @Param leave_type query string false "Leave type"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves [get]
func (h *LeaveHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	filter := models.LeaveFilter{
		StudentID:    c.Query("student_id"),
		HostelID:     c.Query("hostel_id"),
		AcademicYear: c.Query("academic_year"),
		DateFrom:     from,
		DateTo:       to,
		SortBy:       c.Query("sort"),
		SortOrder:    c.Query("order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.LeaveStatus(strings.ToUpper(status))
		filter.Status = &s
	}
	if kind := c.Query("leave_type"); kind != "" {
		k := models.LeaveType(strings.ToUpper(kind))
		filter.LeaveType = &k
	}
	filter.Page, filter.PageSize = pageParams(c)

	leaves, pagination, err := h.leaves.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, leaves, pagination)
}

// Pending godoc
// @Summary Leave awaiting the caller's decision
// @Tags Leave
// @Produce json
// @Param hostel_id query string false "Hostel"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/pending [get]
func (h *LeaveHandler) Pending(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	leaves, err := h.leaves.PendingForApprover(c.Request.Context(), actor, c.Query("hostel_id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, leaves)
}

// Get godoc
// @Summary Get a leave application with its approval trail
// @Tags Leave
// @Produce json
// @Param id path string true "Leave ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/{id} [get]
func (h *LeaveHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	leave, err := h.leaves.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, leave)
}

// Approve godoc
// @Summary Approve the current step of a leave
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Leave ID"
// @Param payload body dto.LeaveDecisionRequest false "Comment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/{id}/approve [post]
func (h *LeaveHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.LeaveDecisionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid decision payload") {
		return
	}
	leave, err := h.leaves.Approve(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, leave)
}

// Reject godoc
// @Summary Reject a leave
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Leave ID"
// @Param payload body dto.RejectLeaveRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/{id}/reject [post]
func (h *LeaveHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RejectLeaveRequest
	if !bindJSON(c, &req, "invalid decision payload") {
		return
	}
	leave, err := h.leaves.Reject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, leave)
}

// Cancel godoc
// @Summary Cancel the caller's leave
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Leave ID"
// @Param payload body dto.CancelLeaveRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/{id}/cancel [post]
func (h *LeaveHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CancelLeaveRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid cancel payload") {
		return
	}
	leave, err := h.leaves.Cancel(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, leave)
}

// UploadAttachment godoc
// @Summary Attach a supporting document
// @Tags Leave
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Leave ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/{id}/attachment [post]
func (h *LeaveHandler) UploadAttachment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable upload"))
		return
	}
	defer file.Close()

	leave, err := h.leaves.UploadAttachment(c.Request.Context(), actor, c.Param("id"), service.LeaveAttachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, leave)
}

// AttachmentURL godoc
// @Summary Issue a signed download link for a leave's attachment
// @Tags Leave
// @Produce json
// @Param id path string true "Leave ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leaves/{id}/attachment [get]
func (h *LeaveHandler) AttachmentURL(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	link, err := h.leaves.AttachmentURL(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, link)
}

// DownloadAttachment godoc
// @Summary Download an attachment through a signed token
// @Tags Leave
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /leaves/attachments/{token} [get]
func (h *LeaveHandler) DownloadAttachment(c *gin.Context) {
	file, name, err := h.leaves.ResolveAttachment(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read attachment"))
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), file)
}

// Balances godoc
// @Summary Leave balances of a student
// @Tags Leave Balances
// @Produce json
// @Param id path string true "Student ID, or SELF"
// @Param academic_year query string false "Academic year, e.g. 2024-2025"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/leave-balances [get]
func (h *LeaveHandler) Balances(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	studentID := c.Param("id")
	if strings.EqualFold(studentID, "self") {
		studentID = ""
	}
	balances, err := h.leaves.GetBalances(c.Request.Context(), actor, studentID, c.Query("academic_year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, balances)
}

// AllocateBalance godoc
// @Summary Set a student's leave allowance
// @Tags Leave Balances
// @Accept json
// @Produce json
// @Param payload body dto.AllocateBalanceRequest true "Allocation"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /leave-balances [put]
func (h *LeaveHandler) AllocateBalance(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.AllocateBalanceRequest
	if !bindJSON(c, &req, "invalid allocation payload") {
		return
	}
	balance, err := h.leaves.AllocateBalance(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, balance)
}

// ListSteps godoc
// @Summary Approval chain of a hostel for a leave type
// @Tags Leave Workflow
// @Produce json
// @Param id path string true "Hostel ID"
// @Param leaveType path string true "Leave type"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/leave-workflow/{leaveType} [get]
func (h *LeaveHandler) ListSteps(c *gin.Context) {
	steps, err := h.leaves.ListSteps(c.Request.Context(), c.Param("id"), leaveTypeParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, steps)
}

// ReplaceSteps godoc
// @Summary Replace the approval chain of a hostel for a leave type
// @Tags Leave Workflow
// @Accept json
// @Produce json
// @Param id path string true "Hostel ID"
// @Param leaveType path string true "Leave type"
// @Param payload body dto.ReplaceStepsRequest true "Steps"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/leave-workflow/{leaveType} [put]
func (h *LeaveHandler) ReplaceSteps(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ReplaceStepsRequest
	if !bindJSON(c, &req, "invalid workflow payload") {
		return
	}
	steps, err := h.leaves.ReplaceSteps(c.Request.Context(), actor, c.Param("id"), leaveTypeParam(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, steps)
}

func leaveTypeParam(c *gin.Context) models.LeaveType {
	return models.LeaveType(strings.ToUpper(c.Param("leaveType")))
}
