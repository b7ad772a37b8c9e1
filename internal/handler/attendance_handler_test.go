package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/middleware"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/response"
)

type attendanceServiceMock struct {
	markCalls   int
	markReq     dto.MarkAttendanceRequest
	markErr     error
	lastActor   models.Actor
	lastFilter  models.AttendanceFilter
	checkOutReq dto.CheckOutRequest
}

func (m *attendanceServiceMock) Mark(ctx context.Context, actor models.Actor, req dto.MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	m.markCalls++
	m.lastActor = actor
	m.markReq = req
	if m.markErr != nil {
		return nil, m.markErr
	}
	return &models.AttendanceRecord{ID: "att-1", StudentID: req.StudentID, Status: models.AttendanceStatusPresent}, nil
}

func (m *attendanceServiceMock) BulkMark(ctx context.Context, actor models.Actor, hostelID string, req dto.BulkAttendanceRequest) (*models.AttendanceBulkResult, error) {
	return &models.AttendanceBulkResult{}, nil
}

func (m *attendanceServiceMock) Correct(ctx context.Context, actor models.Actor, id string, req dto.CorrectAttendanceRequest) (*models.AttendanceRecord, error) {
	return &models.AttendanceRecord{ID: id}, nil
}

func (m *attendanceServiceMock) CheckOut(ctx context.Context, id string, req dto.CheckOutRequest) (*models.AttendanceRecord, error) {
	m.checkOutReq = req
	return &models.AttendanceRecord{ID: id, CheckOutTime: req.CheckOutTime}, nil
}

func (m *attendanceServiceMock) Get(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
}

func (m *attendanceServiceMock) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.AttendanceRecordDetail{}, models.NewPagination(filter.Page, filter.PageSize, 0), nil
}

func (m *attendanceServiceMock) StudentHistory(ctx context.Context, studentID string, from, to *time.Time, page, pageSize int) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	return nil, models.NewPagination(page, pageSize, 0), nil
}

func (m *attendanceServiceMock) StudentSummary(ctx context.Context, studentID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	return &models.AttendanceSummary{StudentID: studentID}, nil
}

func (m *attendanceServiceMock) GetPolicy(ctx context.Context, hostelID string) (*models.AttendancePolicy, error) {
	return &models.AttendancePolicy{HostelID: hostelID}, nil
}

func (m *attendanceServiceMock) UpsertPolicy(ctx context.Context, hostelID string, req dto.AttendancePolicyRequest) (*models.AttendancePolicy, error) {
	return &models.AttendancePolicy{HostelID: hostelID}, nil
}

type alertServiceMock struct {
	evaluatedHostel string
	evaluatedAt     time.Time
}

func (m *alertServiceMock) Create(ctx context.Context, actor models.Actor, req dto.CreateAlertRequest) (*models.AttendanceAlert, error) {
	return &models.AttendanceAlert{ID: "alert-1"}, nil
}

func (m *alertServiceMock) List(ctx context.Context, filter models.AttendanceAlertFilter) ([]models.AttendanceAlert, *models.Pagination, error) {
	return nil, models.NewPagination(filter.Page, filter.PageSize, 0), nil
}

func (m *alertServiceMock) Acknowledge(ctx context.Context, actor models.Actor, id string) (*models.AttendanceAlert, error) {
	return &models.AttendanceAlert{ID: id}, nil
}

func (m *alertServiceMock) Resolve(ctx context.Context, actor models.Actor, id string, req dto.ResolveAlertRequest) (*models.AttendanceAlert, error) {
	return &models.AttendanceAlert{ID: id}, nil
}

func (m *alertServiceMock) Evaluate(ctx context.Context, hostelID string, asOf time.Time) (*models.PolicyEvaluationResult, error) {
	m.evaluatedHostel = hostelID
	m.evaluatedAt = asOf
	return &models.PolicyEvaluationResult{HostelID: hostelID, AsOf: asOf}, nil
}

func contextAs(w *httptest.ResponseRecorder, req *http.Request, userID string, role models.UserRole) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
	return c
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestAttendanceHandlerMark(t *testing.T) {
	const studentID = "0b7e8f8e-3c1a-4d8e-9a57-5d1f0d1c2a10"
	valid := `{"student_id":"` + studentID + `","date":"2025-03-10","status":"PRESENT","check_in_time":"2025-03-10T19:30:00Z"}`

	cases := []struct {
		name       string
		body       string
		serviceErr error
		wantCode   int
		wantError  string
		wantCalls  int
	}{
		{name: "created", body: valid, wantCode: http.StatusCreated, wantCalls: 1},
		{name: "malformed json", body: `{"student_id":`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{name: "student id not a string", body: `{"student_id":42,"date":"2025-03-10"}`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{name: "unparseable check-in time", body: `{"student_id":"` + studentID + `","date":"2025-03-10","check_in_time":"after dinner"}`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{
			name:       "duplicate mark",
			body:       valid,
			serviceErr: appErrors.Clone(appErrors.ErrConflict, "attendance already marked for student "+studentID+" on 2025-03-10"),
			wantCode:   http.StatusConflict,
			wantError:  appErrors.ErrConflict.Code,
			wantCalls:  1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := &attendanceServiceMock{markErr: tc.serviceErr}
			handler := NewAttendanceHandler(mockSvc, &alertServiceMock{})
			w := httptest.NewRecorder()

			handler.Mark(contextAs(w, jsonRequest(http.MethodPost, "/attendance", tc.body), "warden-1", models.RoleWarden))

			require.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantCalls, mockSvc.markCalls)
			env := decodeEnvelope(t, w)
			if tc.wantError != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tc.wantError, env.Error.Code)
				return
			}
			assert.Nil(t, env.Error)
			assert.Equal(t, "warden-1", mockSvc.lastActor.UserID)
			assert.Equal(t, studentID, mockSvc.markReq.StudentID)
			require.NotNil(t, mockSvc.markReq.CheckInTime)
			assert.Equal(t, 19, mockSvc.markReq.CheckInTime.Hour())
		})
	}
}

func TestAttendanceHandlerMarkRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &attendanceServiceMock{}
	handler := NewAttendanceHandler(mockSvc, &alertServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/attendance", `{}`)

	handler.Mark(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, mockSvc.markCalls)
}

func TestAttendanceHandlerListFilters(t *testing.T) {
	mockSvc := &attendanceServiceMock{}
	handler := NewAttendanceHandler(mockSvc, &alertServiceMock{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/attendance?hostel_id=h1&status=late&from=2025-03-01&to=2025-03-31&page=3&limit=10", nil)

	handler.List(contextAs(w, req, "warden-1", models.RoleWarden))
	require.Equal(t, http.StatusOK, w.Code)
	f := mockSvc.lastFilter
	assert.Equal(t, "h1", f.HostelID)
	require.NotNil(t, f.Status)
	assert.Equal(t, models.AttendanceStatusLate, *f.Status)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), *f.DateTo)
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, 10, f.PageSize)
}

func TestAttendanceHandlerListRejectsBadRange(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{}, &alertServiceMock{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/attendance?to=31/03/2025", nil)

	handler.List(contextAs(w, req, "warden-1", models.RoleWarden))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerCheckOutWithoutBody(t *testing.T) {
	mockSvc := &attendanceServiceMock{}
	handler := NewAttendanceHandler(mockSvc, &alertServiceMock{})
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodPost, "/attendance/att-1/checkout", nil), "warden-1", models.RoleWarden)
	c.Params = gin.Params{{Key: "id", Value: "att-1"}}

	handler.CheckOut(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, mockSvc.checkOutReq.CheckOutTime)
}

func TestAttendanceHandlerGetNotFound(t *testing.T) {
	handler := NewAttendanceHandler(&attendanceServiceMock{}, &alertServiceMock{})
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodGet, "/attendance/missing", nil), "warden-1", models.RoleWarden)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAttendanceHandlerEvaluateAsOf(t *testing.T) {
	alerts := &alertServiceMock{}
	handler := NewAttendanceHandler(&attendanceServiceMock{}, alerts)
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodPost, "/hostels/h1/attendance-policy/evaluate?as_of=2025-03-15", nil), "admin-1", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "h1"}}

	handler.EvaluatePolicy(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "h1", alerts.evaluatedHostel)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), alerts.evaluatedAt)

	w = httptest.NewRecorder()
	c = contextAs(w, httptest.NewRequest(http.MethodPost, "/hostels/h1/attendance-policy/evaluate?as_of=tomorrow", nil), "admin-1", models.RoleAdmin)
	handler.EvaluatePolicy(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
