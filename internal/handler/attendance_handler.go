package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/response"
)

type attendanceService interface {
	Mark(ctx context.Context, actor models.Actor, req dto.MarkAttendanceRequest) (*models.AttendanceRecord, error)
	BulkMark(ctx context.Context, actor models.Actor, hostelID string, req dto.BulkAttendanceRequest) (*models.AttendanceBulkResult, error)
	Correct(ctx context.Context, actor models.Actor, id string, req dto.CorrectAttendanceRequest) (*models.AttendanceRecord, error)
	CheckOut(ctx context.Context, id string, req dto.CheckOutRequest) (*models.AttendanceRecord, error)
	Get(ctx context.Context, id string) (*models.AttendanceRecord, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, *models.Pagination, error)
	StudentHistory(ctx context.Context, studentID string, from, to *time.Time, page, pageSize int) ([]models.AttendanceRecordDetail, *models.Pagination, error)
	StudentSummary(ctx context.Context, studentID string, from, to *time.Time) (*models.AttendanceSummary, error)
	GetPolicy(ctx context.Context, hostelID string) (*models.AttendancePolicy, error)
	UpsertPolicy(ctx context.Context, hostelID string, req dto.AttendancePolicyRequest) (*models.AttendancePolicy, error)
}

type alertService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateAlertRequest) (*models.AttendanceAlert, error)
	List(ctx context.Context, filter models.AttendanceAlertFilter) ([]models.AttendanceAlert, *models.Pagination, error)
	Acknowledge(ctx context.Context, actor models.Actor, id string) (*models.AttendanceAlert, error)
	Resolve(ctx context.Context, actor models.Actor, id string, req dto.ResolveAlertRequest) (*models.AttendanceAlert, error)
	Evaluate(ctx context.Context, hostelID string, asOf time.Time) (*models.PolicyEvaluationResult, error)
}

// AttendanceHandler serves attendance marking, history and policy endpoints.
type AttendanceHandler struct {
	attendance attendanceService
	alerts     alertService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance attendanceService, alerts alertService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, alerts: alerts}
}

// Mark godoc
// @Summary Mark a student's attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.MarkAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.MarkAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	record, err := h.attendance.Mark(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// BulkMark godoc
// @Summary Mark attendance for a hostel
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Hostel ID"
// @Param payload body dto.BulkAttendanceRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/attendance/bulk [post]
func (h *AttendanceHandler) BulkMark(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.BulkAttendanceRequest
	if !bindJSON(c, &req, "invalid bulk payload") {
		return
	}
	result, err := h.attendance.BulkMark(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Correct godoc
// @Summary Correct an attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance ID"
// @Param payload body dto.CorrectAttendanceRequest true "Correction"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/{id} [patch]
func (h *AttendanceHandler) Correct(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CorrectAttendanceRequest
	if !bindJSON(c, &req, "invalid correction payload") {
		return
	}
	record, err := h.attendance.Correct(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// CheckOut godoc
// @Summary Record a check-out
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance ID"
// @Param payload body dto.CheckOutRequest false "Check-out time"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/{id}/checkout [post]
func (h *AttendanceHandler) CheckOut(c *gin.Context) {
	var req dto.CheckOutRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid check-out payload") {
		return
	}
	record, err := h.attendance.CheckOut(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// Get godoc
// @Summary Get an attendance record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/{id} [get]
func (h *AttendanceHandler) Get(c *gin.Context) {
	record, err := h.attendance.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// List godoc
// @Summary List attendance
// @Tags Attendance
// @Produce json
// @Param hostel_id query string false "Hostel"
// @Param student_id query string false "Student"
// @Param status query string false "Status"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	filter := models.AttendanceFilter{
		HostelID:  c.Query("hostel_id"),
		StudentID: c.Query("student_id"),
		DateFrom:  from,
		DateTo:    to,
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.AttendanceStatus(strings.ToUpper(status))
		filter.Status = &s
	}
	filter.Page, filter.PageSize = pageParams(c)

	records, pagination, err := h.attendance.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// StudentHistory godoc
// @Summary A student's attendance history
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/attendance [get]
func (h *AttendanceHandler) StudentHistory(c *gin.Context) {
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	records, pagination, err := h.attendance.StudentHistory(c.Request.Context(), c.Param("id"), from, to, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// StudentSummary godoc
// @Summary A student's attendance percentage
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/attendance/summary [get]
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	summary, err := h.attendance.StudentSummary(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// GetPolicy godoc
// @Summary Get a hostel's attendance policy
// @Tags Attendance
// @Produce json
// @Param id path string true "Hostel ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/attendance-policy [get]
func (h *AttendanceHandler) GetPolicy(c *gin.Context) {
	policy, err := h.attendance.GetPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, policy)
}

// UpsertPolicy godoc
// @Summary Set a hostel's attendance policy
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Hostel ID"
// @Param payload body dto.AttendancePolicyRequest true "Policy"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/attendance-policy [put]
func (h *AttendanceHandler) UpsertPolicy(c *gin.Context) {
	var req dto.AttendancePolicyRequest
	if !bindJSON(c, &req, "invalid policy payload") {
		return
	}
	policy, err := h.attendance.UpsertPolicy(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, policy)
}

// CreateAlert godoc
// @Summary Raise a manual attendance alert
// @Tags Attendance Alerts
// @Accept json
// @Produce json
// @Param payload body dto.CreateAlertRequest true "Alert"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/alerts [post]
func (h *AttendanceHandler) CreateAlert(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateAlertRequest
	if !bindJSON(c, &req, "invalid alert payload") {
		return
	}
	alert, err := h.alerts.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, alert)
}

// ListAlerts godoc
// @Summary List attendance alerts
// @Tags Attendance Alerts
// @Produce json
// @Param hostel_id query string false "Hostel"
// @Param student_id query string false "Student"
// @Param status query string false "OPEN, ACKNOWLEDGED or RESOLVED"
// @Param type query string false "Alert type"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/alerts [get]
func (h *AttendanceHandler) ListAlerts(c *gin.Context) {
	filter := models.AttendanceAlertFilter{
		HostelID:  c.Query("hostel_id"),
		StudentID: c.Query("student_id"),
	}
	if status := c.Query("status"); status != "" {
		s := models.AlertStatus(strings.ToUpper(status))
		filter.Status = &s
	}
	if kind := c.Query("type"); kind != "" {
		k := models.AlertType(strings.ToUpper(kind))
		filter.AlertType = &k
	}
	filter.Page, filter.PageSize = pageParams(c)

	alerts, pagination, err := h.alerts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, pagination)
}

// AcknowledgeAlert godoc
// @Summary Acknowledge an alert
// @Tags Attendance Alerts
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/alerts/{id}/acknowledge [post]
func (h *AttendanceHandler) AcknowledgeAlert(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	alert, err := h.alerts.Acknowledge(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, alert)
}

// ResolveAlert godoc
// @Summary Resolve an alert
// @Tags Attendance Alerts
// @Accept json
// @Produce json
// @Param id path string true "Alert ID"
// @Param payload body dto.ResolveAlertRequest true "Resolution"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/alerts/{id}/resolve [post]
func (h *AttendanceHandler) ResolveAlert(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ResolveAlertRequest
	if !bindJSON(c, &req, "invalid resolution payload") {
		return
	}
	alert, err := h.alerts.Resolve(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, alert)
}

// EvaluatePolicy godoc
// @Summary Run the attendance policy for a hostel
// @Tags Attendance Alerts
// @Produce json
// @Param id path string true "Hostel ID"
// @Param as_of query string false "Evaluation date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/attendance-policy/evaluate [post]
func (h *AttendanceHandler) EvaluatePolicy(c *gin.Context) {
	asOf, ok := dateQuery(c, "as_of")
	if !ok {
		return
	}
	when := time.Now().UTC()
	if asOf != nil {
		when = *asOf
	}
	result, err := h.alerts.Evaluate(c.Request.Context(), c.Param("id"), when)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
