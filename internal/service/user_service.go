package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
}

type userSessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, exceptID string, at time.Time) (int64, error)
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	sessions  userSessionRevoker
	audit     auditWriter
	tx        database.Transactor
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, sessions userSessionRevoker, audit auditWriter, tx database.Transactor, validate *validator.Validate, logger *zap.Logger) *UserService {
	return &UserService{
		repo:      repo,
		sessions:  sessions,
		audit:     audit,
		tx:        tx,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
	}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	return user, nil
}

// Create adds a new user.
func (s *UserService) Create(ctx context.Context, actor models.Actor, req dto.CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}
	if exists {
		return nil, conflict("email already exists")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        strPtr(req.Phone),
		Role:         req.Role,
		Active:       req.Active,
		PasswordHash: passwordHash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Internal(err, "failed to create user")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionUserCreate, "users", user.ID, nil,
		map[string]interface{}{"email": user.Email, "role": user.Role})
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	old := map[string]interface{}{"role": user.Role, "active": user.Active}

	user.FullName = strings.TrimSpace(req.FullName)
	user.Role = req.Role
	if req.Phone != nil {
		user.Phone = strPtr(*req.Phone)
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Internal(err, "failed to update user")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionUserUpdate, "users", user.ID, old,
		map[string]interface{}{"role": user.Role, "active": user.Active})
	return user, nil
}

// Delete deactivates a user and signs out all of their sessions.
func (s *UserService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if id == actor.UserID {
		return businessRule("cannot delete own account")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "user not found", "failed to load user")
	}

	err = s.tx.Do(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return lookupError(err, "user not found", "failed to delete user")
		}
		if _, err := s.sessions.RevokeAllForUser(ctx, id, "", time.Now().UTC()); err != nil {
			return appErrors.Internal(err, "failed to revoke sessions")
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionUserDelete, "users", user.ID,
		map[string]bool{"active": user.Active}, map[string]bool{"active": false})
	return nil
}
