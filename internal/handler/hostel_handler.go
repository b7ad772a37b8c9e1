package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/response"
)

type hostelService interface {
	List(ctx context.Context, filter models.HostelFilter) ([]models.Hostel, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Hostel, error)
	Create(ctx context.Context, req dto.CreateHostelRequest) (*models.Hostel, error)
	Update(ctx context.Context, id string, req dto.UpdateHostelRequest) (*models.Hostel, error)
}

// HostelHandler exposes hostel endpoints.
type HostelHandler struct {
	hostels hostelService
}

// NewHostelHandler constructs HostelHandler.
func NewHostelHandler(hostels hostelService) *HostelHandler {
	return &HostelHandler{hostels: hostels}
}

// List godoc
// @Summary List hostels
// @Tags Hostels
// @Produce json
// @Param search query string false "Search by name or code"
// @Param active query bool false "Filter by active state"
// @Param warden_id query string false "Filter by warden"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels [get]
func (h *HostelHandler) List(c *gin.Context) {
	var filter models.HostelFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Active = boolQuery(c, "active")
	filter.WardenID = c.Query("warden_id")
	filter.Page, filter.PageSize = pageParams(c)

	hostels, pagination, err := h.hostels.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, hostels, pagination)
}

// Get godoc
// @Summary Get hostel
// @Tags Hostels
// @Produce json
// @Param id path string true "Hostel ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id} [get]
func (h *HostelHandler) Get(c *gin.Context) {
	hostel, err := h.hostels.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, hostel)
}

// Create godoc
// @Summary Create hostel
// @Tags Hostels
// @Accept json
// @Produce json
// @Param payload body dto.CreateHostelRequest true "Hostel payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels [post]
func (h *HostelHandler) Create(c *gin.Context) {
	var req dto.CreateHostelRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	hostel, err := h.hostels.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, hostel)
}

// Update godoc
// @Summary Update hostel
// @Tags Hostels
// @Accept json
// @Produce json
// @Param id path string true "Hostel ID"
// @Param payload body dto.UpdateHostelRequest true "Hostel payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id} [put]
func (h *HostelHandler) Update(c *gin.Context) {
	var req dto.UpdateHostelRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	hostel, err := h.hostels.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, hostel)
}
