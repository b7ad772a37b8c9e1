package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
)

const studentDetailSelect = `SELECT s.id, s.user_id, s.hostel_id, s.roll_number, s.room_number, s.guardian_name, s.guardian_phone, s.active, s.created_at, s.updated_at,
        u.full_name, u.email, u.phone
        FROM students s
        JOIN users u ON u.id = s.user_id`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var where whereBuilder
	if filter.HostelID != "" {
		where.add("s.hostel_id = $%d", filter.HostelID)
	}
	if filter.Active != nil {
		where.add("s.active = $%d", *filter.Active)
	}
	if filter.Search != "" {
		where.add("(LOWER(u.full_name) LIKE $%[1]d OR LOWER(s.roll_number) LIKE $%[1]d OR LOWER(s.room_number) LIKE $%[1]d)", "%"+strings.ToLower(filter.Search)+"%")
	}
	cond := " WHERE 1=1" + where.sql()

	order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"full_name":   "u.full_name",
		"roll_number": "s.roll_number",
		"room_number": "s.room_number",
		"created_at":  "s.created_at",
	}, "created_at")

	query := fmt.Sprintf("%s%s %s %s", studentDetailSelect, cond, order, pageWindow(filter.Page, filter.PageSize))
	exec := database.Executor(ctx, r.db)

	var students []models.StudentDetail
	if err := exec.SelectContext(ctx, &students, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM students s JOIN users u ON u.id = s.user_id" + cond
	if err := exec.GetContext(ctx, &total, countQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	var detail models.StudentDetail
	if err := database.Executor(ctx, r.db).GetContext(ctx, &detail, studentDetailSelect+" WHERE s.id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &detail, nil
}

// FindByUserID resolves the student profile of a STUDENT account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	var detail models.StudentDetail
	if err := database.Executor(ctx, r.db).GetContext(ctx, &detail, studentDetailSelect+" WHERE s.user_id = $1", userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student by user: %w", err)
	}
	return &detail, nil
}

// ListActiveIDsByHostel returns the IDs of active residents of a hostel.
func (r *StudentRepository) ListActiveIDsByHostel(ctx context.Context, hostelID string) ([]string, error) {
	var ids []string
	const query = `SELECT id FROM students WHERE hostel_id = $1 AND active = TRUE ORDER BY roll_number`
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &ids, query, hostelID); err != nil {
		return nil, fmt.Errorf("list hostel students: %w", err)
	}
	return ids, nil
}

// ExistsByRollNumber checks if a roll number is taken, optionally excluding an ID.
func (r *StudentRepository) ExistsByRollNumber(ctx context.Context, roll, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE roll_number = $1"
	args := []interface{}{roll}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := database.Executor(ctx, r.db).GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check roll number: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, user_id, hostel_id, roll_number, room_number, guardian_name, guardian_phone, active, created_at, updated_at)
        VALUES (:id, :user_id, :hostel_id, :roll_number, :room_number, :guardian_name, :guardian_phone, :active, :created_at, :updated_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET hostel_id = :hostel_id, room_number = :room_number, guardian_name = :guardian_name, guardian_phone = :guardian_phone, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Deactivate marks a student as inactive.
func (r *StudentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE students SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	return nil
}
