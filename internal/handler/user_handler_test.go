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

type userServiceMock struct {
	lastFilter models.UserFilter
	createReq  dto.CreateUserRequest
	createErr  error
	deleteErr  error
	lastActor  models.Actor
}

func (m *userServiceMock) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.User{{ID: "u1"}}, models.NewPagination(filter.Page, filter.PageSize, 1), nil
}

func (m *userServiceMock) Get(ctx context.Context, id string) (*models.User, error) {
	return &models.User{ID: id, Email: "ayu@hostel.test", PasswordHash: "$2a$10$hash", Role: models.RoleStudent}, nil
}

func (m *userServiceMock) Create(ctx context.Context, actor models.Actor, req dto.CreateUserRequest) (*models.User, error) {
	m.lastActor = actor
	m.createReq = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.User{ID: "u2", Email: req.Email, Role: req.Role}, nil
}

func (m *userServiceMock) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateUserRequest) (*models.User, error) {
	return &models.User{ID: id, FullName: req.FullName}, nil
}

func (m *userServiceMock) Delete(ctx context.Context, actor models.Actor, id string) error {
	m.lastActor = actor
	return m.deleteErr
}

func TestUserHandlerListFilters(t *testing.T) {
	mockSvc := &userServiceMock{}
	handler := NewUserHandler(mockSvc)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users?role=warden&active=false&search=%20ayu%20&page=2&limit=50", nil)

	handler.List(contextAs(w, req, "admin-1", models.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	f := mockSvc.lastFilter
	require.NotNil(t, f.Role)
	assert.Equal(t, models.RoleWarden, *f.Role)
	require.NotNil(t, f.Active)
	assert.False(t, *f.Active)
	assert.Equal(t, "ayu", f.Search)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 50, f.PageSize)
	assert.NotNil(t, decodeEnvelope(t, w).Pagination)
}

func TestUserHandlerGetHidesPasswordHash(t *testing.T) {
	handler := NewUserHandler(&userServiceMock{})
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodGet, "/users/u1", nil), "admin-1", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "u1"}}

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.NotContains(t, w.Body.String(), "$2a$10$hash")
}

func TestUserHandlerCreate(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		err       error
		wantCode  int
		wantError string
	}{
		{name: "created", body: `{"email":"new@hostel.test","full_name":"New","role":"WARDEN","password":"longenough"}`, wantCode: http.StatusCreated},
		{name: "malformed json", body: `{"email":`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{name: "active not a bool", body: `{"email":"new@hostel.test","active":"yes"}`, wantCode: http.StatusBadRequest, wantError: appErrors.ErrValidation.Code},
		{
			name:      "email taken",
			body:      `{"email":"ayu@hostel.test","full_name":"Ayu","role":"STUDENT","password":"longenough"}`,
			err:       appErrors.Clone(appErrors.ErrConflict, "email already exists"),
			wantCode:  http.StatusConflict,
			wantError: appErrors.ErrConflict.Code,
		},
		{
			name:      "admin creating superadmin",
			body:      `{"email":"root@hostel.test","full_name":"Root","role":"SUPERADMIN","password":"longenough"}`,
			err:       appErrors.Clone(appErrors.ErrForbidden, "only a superadmin can grant that role"),
			wantCode:  http.StatusForbidden,
			wantError: appErrors.ErrForbidden.Code,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := &userServiceMock{createErr: tc.err}
			handler := NewUserHandler(mockSvc)
			w := httptest.NewRecorder()

			handler.Create(contextAs(w, jsonRequest(http.MethodPost, "/users", tc.body), "admin-1", models.RoleAdmin))
			require.Equal(t, tc.wantCode, w.Code)
			if tc.wantError != "" {
				assert.Equal(t, tc.wantError, decodeEnvelope(t, w).Error.Code)
				return
			}
			assert.Equal(t, "admin-1", mockSvc.lastActor.UserID)
			assert.Equal(t, models.RoleWarden, mockSvc.createReq.Role)
		})
	}
}

func TestUserHandlerDelete(t *testing.T) {
	mockSvc := &userServiceMock{}
	handler := NewUserHandler(mockSvc)
	w := httptest.NewRecorder()
	c := contextAs(w, httptest.NewRequest(http.MethodDelete, "/users/u1", nil), "admin-1", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "u1"}}

	handler.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())

	mockSvc.deleteErr = appErrors.Clone(appErrors.ErrBusinessRule, "cannot delete yourself")
	w = httptest.NewRecorder()
	c = contextAs(w, httptest.NewRequest(http.MethodDelete, "/users/admin-1", nil), "admin-1", models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "admin-1"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
