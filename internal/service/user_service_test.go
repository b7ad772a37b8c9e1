package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]*models.User
	listErr error
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var users []models.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		c := *user
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Active = false
	return nil
}

type mockSessionRevoker struct {
	revokedFor []string
}

func (m *mockSessionRevoker) RevokeAllForUser(ctx context.Context, userID, exceptID string, at time.Time) (int64, error) {
	m.revokedFor = append(m.revokedFor, userID)
	return 1, nil
}

func newUserFixture() (*UserService, *mockUserRepo, *mockSessionRevoker, *mockAudit) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "student@hostel.test", FullName: "Student One", Role: models.RoleStudent, Active: true},
	}}
	sessions := &mockSessionRevoker{}
	audit := &mockAudit{}
	return NewUserService(repo, sessions, audit, &passthroughTx{}, nil, zap.NewNop()), repo, sessions, audit
}

var adminActor = models.Actor{UserID: "admin-1", Role: models.RoleAdmin, IP: "127.0.0.1"}

func TestUserServiceCreateHashesPassword(t *testing.T) {
	svc, repo, _, audit := newUserFixture()

	user, err := svc.Create(context.Background(), adminActor, dto.CreateUserRequest{
		Email:    "Warden@Hostel.Test",
		FullName: "Head Warden",
		Role:     models.RoleWarden,
		Active:   true,
		Password: "supersecret",
	})
	require.NoError(t, err)
	assert.Equal(t, "warden@hostel.test", user.Email)
	stored := repo.users[user.ID]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("supersecret")))
	assert.Equal(t, []string{models.AuditActionUserCreate}, audit.actions())
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newUserFixture()
	_, err := svc.Create(context.Background(), adminActor, dto.CreateUserRequest{
		Email: "student@hostel.test", FullName: "Dup", Role: models.RoleStudent, Password: "supersecret",
	})
	assertCode(t, err, appErrors.ErrConflict)
}

func TestUserServiceCreateRejectsUnknownRole(t *testing.T) {
	svc, _, _, _ := newUserFixture()
	_, err := svc.Create(context.Background(), adminActor, dto.CreateUserRequest{
		Email: "x@hostel.test", FullName: "X", Role: "JANITOR", Password: "supersecret",
	})
	assertCode(t, err, appErrors.ErrValidation)
}

func TestUserServiceUpdate(t *testing.T) {
	svc, repo, _, _ := newUserFixture()
	active := false
	phone := "+628123456789"

	user, err := svc.Update(context.Background(), adminActor, "u1", dto.UpdateUserRequest{
		FullName: "Student Renamed", Role: models.RoleStudent, Phone: &phone, Active: &active,
	})
	require.NoError(t, err)
	assert.Equal(t, "Student Renamed", user.FullName)
	assert.False(t, repo.users["u1"].Active)
	require.NotNil(t, repo.users["u1"].Phone)
	assert.Equal(t, phone, *repo.users["u1"].Phone)
}

func TestUserServiceDeleteRevokesSessions(t *testing.T) {
	svc, repo, sessions, audit := newUserFixture()

	require.NoError(t, svc.Delete(context.Background(), adminActor, "u1"))
	assert.False(t, repo.users["u1"].Active)
	assert.Equal(t, []string{"u1"}, sessions.revokedFor)
	assert.Contains(t, audit.actions(), models.AuditActionUserDelete)
}

func TestUserServiceDeleteSelfRejected(t *testing.T) {
	svc, _, _, _ := newUserFixture()
	err := svc.Delete(context.Background(), models.Actor{UserID: "u1"}, "u1")
	assertCode(t, err, appErrors.ErrBusinessRule)
}

func TestUserServiceGetNotFound(t *testing.T) {
	svc, _, _, _ := newUserFixture()
	_, err := svc.Get(context.Background(), "missing")
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestUserServiceListPagination(t *testing.T) {
	svc, _, _, _ := newUserFixture()
	users, pagination, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 1, pagination.TotalPages)
}
