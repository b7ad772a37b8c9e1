package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-api/internal/middleware"
	"github.com/noah-isme/hostel-api/internal/service"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/response"
)

// AnalyticsHandler exposes dashboard-ready analytics endpoints.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	exports   *service.ExportService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService, exports *service.ExportService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, exports: exports}
}

// Overview godoc
// @Summary Hostel attendance overview
// @Tags Analytics
// @Produce json
// @Param id path string true "Hostel ID"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/analytics/overview [get]
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	overview, cacheHit, err := h.analytics.HostelOverview(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	respondWithMeta(c, http.StatusOK, overview, nil)
}

// RiskScores godoc
// @Summary Students ranked by attendance risk
// @Tags Analytics
// @Produce json
// @Param id path string true "Hostel ID"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /hostels/{id}/analytics/risk [get]
func (h *AnalyticsHandler) RiskScores(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	scores, cacheHit, err := h.analytics.RiskScores(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	respondWithMeta(c, http.StatusOK, scores, nil)
}

// System returns instrumentation metrics snapshots.
func (h *AnalyticsHandler) System(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	middleware.SetCacheHit(c, false)
	respondWithMeta(c, http.StatusOK, h.analytics.SystemMetrics(), nil)
}

// Export godoc
// @Summary Download an attendance report
// @Tags Analytics
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Hostel ID"
// @Param format query string false "csv, pdf or xlsx"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /hostels/{id}/reports/attendance [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	from, to, ok := dateRangeQuery(c)
	if !ok {
		return
	}
	file, err := h.exports.AttendanceReport(c.Request.Context(), c.Param("id"), from, to, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
