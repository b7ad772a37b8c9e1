package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type hostelRepository interface {
	FindByID(ctx context.Context, id string) (*models.Hostel, error)
	List(ctx context.Context, filter models.HostelFilter) ([]models.Hostel, int, error)
	Create(ctx context.Context, hostel *models.Hostel) error
	Update(ctx context.Context, hostel *models.Hostel) error
	CountResidents(ctx context.Context, hostelID string) (int, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// HostelService manages hostel records.
type HostelService struct {
	repo      hostelRepository
	users     userLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewHostelService constructs a HostelService.
func NewHostelService(repo hostelRepository, users userLookup, validate *validator.Validate, logger *zap.Logger) *HostelService {
	return &HostelService{repo: repo, users: users, validator: defaultValidator(validate), logger: defaultLogger(logger)}
}

// List returns hostels with pagination.
func (s *HostelService) List(ctx context.Context, filter models.HostelFilter) ([]models.Hostel, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	hostels, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list hostels")
	}
	return hostels, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a hostel by ID.
func (s *HostelService) Get(ctx context.Context, id string) (*models.Hostel, error) {
	hostel, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "hostel not found", "failed to load hostel")
	}
	return hostel, nil
}

// Create registers a hostel.
func (s *HostelService) Create(ctx context.Context, req dto.CreateHostelRequest) (*models.Hostel, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid hostel payload")
	}
	if err := s.ensureWarden(ctx, req.WardenID); err != nil {
		return nil, err
	}
	hostel := &models.Hostel{
		Name:     strings.TrimSpace(req.Name),
		Code:     strings.ToUpper(req.Code),
		Address:  req.Address,
		Capacity: req.Capacity,
		WardenID: req.WardenID,
		Active:   true,
	}
	if err := s.repo.Create(ctx, hostel); err != nil {
		if mapped := appErrors.FromPostgres(err, "hostel name or code already exists"); mapped != nil {
			return nil, mapped
		}
		return nil, appErrors.Internal(err, "failed to create hostel")
	}
	s.logger.Info("hostel created", zap.String("hostel_id", hostel.ID), zap.String("code", hostel.Code))
	return hostel, nil
}

// Update changes hostel attributes. Capacity may not drop below the current
// number of residents.
func (s *HostelService) Update(ctx context.Context, id string, req dto.UpdateHostelRequest) (*models.Hostel, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid hostel payload")
	}
	hostel, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "hostel not found", "failed to load hostel")
	}
	if err := s.ensureWarden(ctx, req.WardenID); err != nil {
		return nil, err
	}
	if req.Capacity < hostel.Capacity {
		residents, err := s.repo.CountResidents(ctx, id)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to count residents")
		}
		if req.Capacity < residents {
			return nil, businessRule("capacity is below the current number of residents")
		}
	}

	hostel.Name = strings.TrimSpace(req.Name)
	hostel.Address = req.Address
	hostel.Capacity = req.Capacity
	hostel.WardenID = req.WardenID
	if req.Active != nil {
		hostel.Active = *req.Active
	}
	if err := s.repo.Update(ctx, hostel); err != nil {
		return nil, appErrors.Internal(err, "failed to update hostel")
	}
	return hostel, nil
}

func (s *HostelService) ensureWarden(ctx context.Context, wardenID *string) error {
	if wardenID == nil || *wardenID == "" {
		return nil
	}
	user, err := s.users.FindByID(ctx, *wardenID)
	if err != nil {
		return lookupError(err, "warden not found", "failed to load warden")
	}
	if user.Role != models.RoleWarden || !user.Active {
		return validationFailed("warden_id must reference an active WARDEN user")
	}
	return nil
}
