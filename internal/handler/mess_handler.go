package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/middleware"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/response"
)

type messService interface {
	UpsertMenu(ctx context.Context, actor models.Actor, req dto.UpsertMenuRequest) (*models.MessMenu, error)
	GetMenu(ctx context.Context, id string) (*models.MessMenu, error)
	DeleteMenu(ctx context.Context, actor models.Actor, id string) error
	DailyMenu(ctx context.Context, hostelID, rawDate string) (*models.DailyMenu, error)
	WeeklyMenu(ctx context.Context, hostelID, weekStart string) (*models.WeeklyMenu, bool, error)
	WeeklyCalendar(ctx context.Context, hostelID, weekStart string) (string, error)
	SubmitFeedback(ctx context.Context, actor models.Actor, menuID string, req dto.MenuFeedbackRequest) (*models.MessFeedback, error)
	FeedbackSummary(ctx context.Context, menuID string) (*models.FeedbackSummary, error)
	ListFeedback(ctx context.Context, menuID string, limit int) ([]models.MessFeedback, error)
}

// MessHandler serves menus, the weekly calendar feed and meal feedback.
type MessHandler struct {
	mess messService
}

// NewMessHandler constructs MessHandler.
func NewMessHandler(mess messService) *MessHandler {
	return &MessHandler{mess: mess}
}

// UpsertMenu godoc
// @Summary Create or replace a meal's menu
// @Tags Mess
// @Accept json
// @Produce json
// @Param payload body dto.UpsertMenuRequest true "Menu"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mess/menus [put]
func (h *MessHandler) UpsertMenu(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpsertMenuRequest
	if !bindJSON(c, &req, "invalid menu payload") {
		return
	}
	menu, err := h.mess.UpsertMenu(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, menu)
}

// GetMenu godoc
// @Summary Get a menu
// @Tags Mess
// @Produce json
// @Param id path string true "Menu ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mess/menus/{id} [get]
func (h *MessHandler) GetMenu(c *gin.Context) {
	menu, err := h.mess.GetMenu(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, menu)
}

// DeleteMenu godoc
// @Summary Delete a menu
// @Tags Mess
// @Param id path string true "Menu ID"
// @Success 204
// @Security BearerAuth
// @Router /mess/menus/{id} [delete]
func (h *MessHandler) DeleteMenu(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.mess.DeleteMenu(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Daily godoc
// @Summary A hostel's menu for one day
// @Tags Mess
// @Produce json
// @Param id path string true "Hostel ID"
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/mess/daily [get]
func (h *MessHandler) Daily(c *gin.Context) {
	menu, err := h.mess.DailyMenu(c.Request.Context(), c.Param("id"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, menu)
}

// Weekly godoc
// @Summary A hostel's menu for the week
// @Tags Mess
// @Produce json
// @Param id path string true "Hostel ID"
// @Param week_start query string false "Any date in the week"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/mess/weekly [get]
func (h *MessHandler) Weekly(c *gin.Context) {
	week, cacheHit, err := h.mess.WeeklyMenu(c.Request.Context(), c.Param("id"), c.Query("week_start"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	respondWithMeta(c, http.StatusOK, week, nil)
}

// Calendar godoc
// @Summary The weekly menu as an iCalendar feed
// @Tags Mess
// @Produce text/calendar
// @Param id path string true "Hostel ID"
// @Param week_start query string false "Any date in the week"
// @Success 200 {string} string
// @Security BearerAuth
// @Router /hostels/{id}/mess/weekly.ics [get]
func (h *MessHandler) Calendar(c *gin.Context) {
	feed, err := h.mess.WeeklyCalendar(c.Request.Context(), c.Param("id"), c.Query("week_start"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="mess-menu.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(feed))
}

// SubmitFeedback godoc
// @Summary Rate a served meal
// @Tags Mess
// @Accept json
// @Produce json
// @Param id path string true "Menu ID"
// @Param payload body dto.MenuFeedbackRequest true "Feedback"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /mess/menus/{id}/feedback [post]
func (h *MessHandler) SubmitFeedback(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.MenuFeedbackRequest
	if !bindJSON(c, &req, "invalid feedback payload") {
		return
	}
	feedback, err := h.mess.SubmitFeedback(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, feedback)
}

// FeedbackSummary godoc
// @Summary Rating distribution of a menu
// @Tags Mess
// @Produce json
// @Param id path string true "Menu ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mess/menus/{id}/feedback/summary [get]
func (h *MessHandler) FeedbackSummary(c *gin.Context) {
	summary, err := h.mess.FeedbackSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// ListFeedback godoc
// @Summary Recent comments on a menu
// @Tags Mess
// @Produce json
// @Param id path string true "Menu ID"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /mess/menus/{id}/feedback [get]
func (h *MessHandler) ListFeedback(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.mess.ListFeedback(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}
