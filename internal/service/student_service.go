package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
	ExistsByRollNumber(ctx context.Context, roll, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

type hostelReader interface {
	FindByID(ctx context.Context, id string) (*models.Hostel, error)
	CountResidents(ctx context.Context, hostelID string) (int, error)
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	hostels   hostelReader
	users     userLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, hostels hostelReader, users userLookup, validate *validator.Validate, logger *zap.Logger) *StudentService {
	return &StudentService{repo: repo, hostels: hostels, users: users, validator: defaultValidator(validate), logger: defaultLogger(logger)}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}
	return student, nil
}

// ForUser resolves the student profile of a STUDENT account.
func (s *StudentService) ForUser(ctx context.Context, userID string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbidden("no student profile linked to this account")
		}
		return nil, appErrors.Internal(err, "failed to load student profile")
	}
	if !student.Active {
		return nil, forbidden("student profile is inactive")
	}
	return student, nil
}

// Create enrols a STUDENT user into a hostel.
func (s *StudentService) Create(ctx context.Context, req dto.CreateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	if user.Role != models.RoleStudent {
		return nil, validationFailed("user must have role STUDENT")
	}
	if _, err := s.repo.FindByUserID(ctx, req.UserID); err == nil {
		return nil, conflict("user is already enrolled as a student")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check enrolment")
	}

	roll := strings.TrimSpace(req.RollNumber)
	exists, err := s.repo.ExistsByRollNumber(ctx, roll, "")
	if err != nil {
		return nil, appErrors.Internal(err, "failed to validate roll number")
	}
	if exists {
		return nil, conflict("roll number already exists")
	}
	if err := s.ensureCapacity(ctx, req.HostelID); err != nil {
		return nil, err
	}

	student := &models.Student{
		UserID:        req.UserID,
		HostelID:      req.HostelID,
		RollNumber:    roll,
		RoomNumber:    strings.TrimSpace(req.RoomNumber),
		GuardianName:  strings.TrimSpace(req.GuardianName),
		GuardianPhone: req.GuardianPhone,
		Active:        true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Internal(err, "failed to create student")
	}
	return s.Get(ctx, student.ID)
}

// Update changes room, hostel or guardian details.
func (s *StudentService) Update(ctx context.Context, id string, req dto.UpdateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "student not found", "failed to load student")
	}

	student := detail.Student
	if req.HostelID != "" && req.HostelID != student.HostelID {
		if err := s.ensureCapacity(ctx, req.HostelID); err != nil {
			return nil, err
		}
		student.HostelID = req.HostelID
	}
	student.RoomNumber = strings.TrimSpace(req.RoomNumber)
	student.GuardianName = strings.TrimSpace(req.GuardianName)
	student.GuardianPhone = req.GuardianPhone

	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Internal(err, "failed to update student")
	}
	return s.Get(ctx, id)
}

// Deactivate marks a student inactive.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return lookupError(err, "student not found", "failed to load student")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to deactivate student")
	}
	return nil
}

func (s *StudentService) ensureCapacity(ctx context.Context, hostelID string) error {
	hostel, err := s.hostels.FindByID(ctx, hostelID)
	if err != nil {
		return lookupError(err, "hostel not found", "failed to load hostel")
	}
	if !hostel.Active {
		return businessRule("hostel is inactive")
	}
	residents, err := s.hostels.CountResidents(ctx, hostelID)
	if err != nil {
		return appErrors.Internal(err, "failed to count residents")
	}
	if residents >= hostel.Capacity {
		return businessRule("hostel is at full capacity")
	}
	return nil
}
