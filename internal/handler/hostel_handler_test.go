package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type hostelServiceMock struct {
	lastFilter models.HostelFilter
	createReq  dto.CreateHostelRequest
	updateID   string
	updateReq  dto.UpdateHostelRequest
	err        error
}

func (m *hostelServiceMock) List(ctx context.Context, filter models.HostelFilter) ([]models.Hostel, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Hostel{{ID: "h1", Name: "North Block"}}, models.NewPagination(filter.Page, filter.PageSize, 1), nil
}

func (m *hostelServiceMock) Get(ctx context.Context, id string) (*models.Hostel, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Hostel{ID: id}, nil
}

func (m *hostelServiceMock) Create(ctx context.Context, req dto.CreateHostelRequest) (*models.Hostel, error) {
	m.createReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Hostel{ID: "h2", Name: req.Name, Code: req.Code}, nil
}

func (m *hostelServiceMock) Update(ctx context.Context, id string, req dto.UpdateHostelRequest) (*models.Hostel, error) {
	m.updateID = id
	m.updateReq = req
	return &models.Hostel{ID: id, Name: req.Name}, nil
}

func TestHostelHandlerList(t *testing.T) {
	mockSvc := &hostelServiceMock{}
	handler := NewHostelHandler(mockSvc)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hostels?warden_id=w1&active=true&search=north", nil)

	handler.List(contextAs(w, req, "admin-1", models.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "w1", mockSvc.lastFilter.WardenID)
	assert.Equal(t, "north", mockSvc.lastFilter.Search)
	require.NotNil(t, mockSvc.lastFilter.Active)
	assert.True(t, *mockSvc.lastFilter.Active)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestHostelHandlerCreate(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		err       error
		wantCode  int
		wantError string
	}{
		{name: "created", body: `{"name":"North Block","code":"NB1","capacity":120}`, wantCode: http.StatusCreated},
		{name: "capacity not a number", body: `{"name":"North Block","code":"NB1","capacity":"lots"}`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{name: "duplicate code", body: `{"name":"North Block","code":"NB1","capacity":120}`, err: appErrors.Clone(appErrors.ErrConflict, "hostel code already exists"), wantCode: http.StatusConflict, wantError: appErrors.ErrConflict.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := &hostelServiceMock{err: tc.err}
			handler := NewHostelHandler(mockSvc)
			w := httptest.NewRecorder()

			handler.Create(contextAs(w, jsonRequest(http.MethodPost, "/hostels", tc.body), "admin-1", models.RoleAdmin))
			require.Equal(t, tc.wantCode, w.Code)
			if tc.wantError != "" {
				assert.Equal(t, tc.wantError, decodeEnvelope(t, w).Error.Code)
				return
			}
			assert.Equal(t, 120, mockSvc.createReq.Capacity)
		})
	}
}

func TestHostelHandlerUpdate(t *testing.T) {
	mockSvc := &hostelServiceMock{}
	handler := NewHostelHandler(mockSvc)
	w := httptest.NewRecorder()
	c := contextAs(w, jsonRequest(http.MethodPut, "/hostels/h1", `{"name":"North Block","capacity":90,"active":false}`), "admin-1", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "h1"}}

	handler.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "h1", mockSvc.updateID)
	require.NotNil(t, mockSvc.updateReq.Active)
	assert.False(t, *mockSvc.updateReq.Active)
}

func TestHostelHandlerGetNotFound(t *testing.T) {
	handler := NewHostelHandler(&hostelServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "hostel not found")})
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodGet, "/hostels/missing", nil), "admin-1", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
