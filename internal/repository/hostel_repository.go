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

const hostelColumns = "id, name, code, address, capacity, warden_id, active, created_at, updated_at"

// HostelRepository manages hostels.
type HostelRepository struct {
	db *sqlx.DB
}

// NewHostelRepository constructs a HostelRepository.
func NewHostelRepository(db *sqlx.DB) *HostelRepository {
	return &HostelRepository{db: db}
}

// FindByID returns a hostel by identifier.
func (r *HostelRepository) FindByID(ctx context.Context, id string) (*models.Hostel, error) {
	query := "SELECT " + hostelColumns + " FROM hostels WHERE id = $1"
	var hostel models.Hostel
	if err := database.Executor(ctx, r.db).GetContext(ctx, &hostel, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find hostel: %w", err)
	}
	return &hostel, nil
}

// List returns hostels matching filter.
func (r *HostelRepository) List(ctx context.Context, filter models.HostelFilter) ([]models.Hostel, int, error) {
	var where whereBuilder
	if filter.Active != nil {
		where.add("active = $%d", *filter.Active)
	}
	if filter.WardenID != "" {
		where.add("warden_id = $%d", filter.WardenID)
	}
	if filter.Search != "" {
		where.add("(LOWER(name) LIKE $%[1]d OR LOWER(code) LIKE $%[1]d)", "%"+strings.ToLower(filter.Search)+"%")
	}
	base := "FROM hostels WHERE 1=1" + where.sql()
	exec := database.Executor(ctx, r.db)

	var hostels []models.Hostel
	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY name ASC %s", hostelColumns, base, pageWindow(filter.Page, filter.PageSize))
	if err := exec.SelectContext(ctx, &hostels, listQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list hostels: %w", err)
	}
	var total int
	if err := exec.GetContext(ctx, &total, "SELECT COUNT(*) "+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count hostels: %w", err)
	}
	return hostels, total, nil
}

// ListActiveIDs returns every active hostel ID; sweeps iterate over it.
func (r *HostelRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &ids, `SELECT id FROM hostels WHERE active = TRUE ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list active hostels: %w", err)
	}
	return ids, nil
}

// Create inserts a hostel.
func (r *HostelRepository) Create(ctx context.Context, hostel *models.Hostel) error {
	if hostel.ID == "" {
		hostel.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	hostel.CreatedAt = now
	hostel.UpdatedAt = now
	const query = `INSERT INTO hostels (id, name, code, address, capacity, warden_id, active, created_at, updated_at) VALUES (:id, :name, :code, :address, :capacity, :warden_id, :active, :created_at, :updated_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, hostel); err != nil {
		return fmt.Errorf("create hostel: %w", err)
	}
	return nil
}

// Update writes mutable hostel fields.
func (r *HostelRepository) Update(ctx context.Context, hostel *models.Hostel) error {
	hostel.UpdatedAt = time.Now().UTC()
	const query = `UPDATE hostels SET name = :name, address = :address, capacity = :capacity, warden_id = :warden_id, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, hostel); err != nil {
		return fmt.Errorf("update hostel: %w", err)
	}
	return nil
}

// CountResidents returns the number of active students in a hostel.
func (r *HostelRepository) CountResidents(ctx context.Context, hostelID string) (int, error) {
	var count int
	if err := database.Executor(ctx, r.db).GetContext(ctx, &count, `SELECT COUNT(*) FROM students WHERE hostel_id = $1 AND active = TRUE`, hostelID); err != nil {
		return 0, fmt.Errorf("count residents: %w", err)
	}
	return count, nil
}
