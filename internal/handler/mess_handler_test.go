package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/middleware"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type messServiceMock struct {
	weeklyHit    bool
	lastWeek     string
	feedbackErr  error
	lastFeedback dto.MenuFeedbackRequest
}

func (m *messServiceMock) UpsertMenu(ctx context.Context, actor models.Actor, req dto.UpsertMenuRequest) (*models.MessMenu, error) {
	return &models.MessMenu{ID: "menu-1", HostelID: req.HostelID, MealType: req.MealType}, nil
}

func (m *messServiceMock) GetMenu(ctx context.Context, id string) (*models.MessMenu, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "menu not found")
}

func (m *messServiceMock) DeleteMenu(ctx context.Context, actor models.Actor, id string) error {
	return nil
}

func (m *messServiceMock) DailyMenu(ctx context.Context, hostelID, rawDate string) (*models.DailyMenu, error) {
	return &models.DailyMenu{}, nil
}

func (m *messServiceMock) WeeklyMenu(ctx context.Context, hostelID, weekStart string) (*models.WeeklyMenu, bool, error) {
	m.lastWeek = weekStart
	return &models.WeeklyMenu{HostelID: hostelID}, m.weeklyHit, nil
}

func (m *messServiceMock) WeeklyCalendar(ctx context.Context, hostelID, weekStart string) (string, error) {
	return "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n", nil
}

func (m *messServiceMock) SubmitFeedback(ctx context.Context, actor models.Actor, menuID string, req dto.MenuFeedbackRequest) (*models.MessFeedback, error) {
	m.lastFeedback = req
	if m.feedbackErr != nil {
		return nil, m.feedbackErr
	}
	return &models.MessFeedback{ID: "fb-1", MenuID: menuID, Rating: req.Rating}, nil
}

func (m *messServiceMock) FeedbackSummary(ctx context.Context, menuID string) (*models.FeedbackSummary, error) {
	return &models.FeedbackSummary{MenuID: menuID}, nil
}

func (m *messServiceMock) ListFeedback(ctx context.Context, menuID string, limit int) ([]models.MessFeedback, error) {
	return []models.MessFeedback{}, nil
}

func TestMessHandlerWeeklyReportsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &messServiceMock{weeklyHit: true}
	handler := NewMessHandler(mockSvc)

	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.GET("/hostels/:id/mess/weekly", handler.Weekly)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hostels/h1/mess/weekly?week_start=2025-03-12", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2025-03-12", mockSvc.lastWeek)
	var body struct {
		Data models.WeeklyMenu      `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "h1", body.Data.HostelID)
	assert.Equal(t, true, body.Meta["cache_hit"])
}

func TestMessHandlerCalendarContentType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewMessHandler(&messServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/hostels/h1/mess/weekly.ics", nil)

	handler.Calendar(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
}

func TestMessHandlerFeedbackDuplicate(t *testing.T) {
	mockSvc := &messServiceMock{feedbackErr: appErrors.Clone(appErrors.ErrConflict, "feedback already submitted")}
	handler := NewMessHandler(mockSvc)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mess/menus/menu-1/feedback", bytes.NewBufferString(`{"rating":4,"comment":"good"}`))
	req.Header.Set("Content-Type", "application/json")
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "menu-1"}}

	handler.SubmitFeedback(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 4, mockSvc.lastFeedback.Rating)
}

func TestMessHandlerGetMenuNotFound(t *testing.T) {
	handler := NewMessHandler(&messServiceMock{})
	w := httptest.NewRecorder()
	c := studentContext(w, httptest.NewRequest(http.MethodGet, "/mess/menus/missing", nil))

	handler.GetMenu(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
