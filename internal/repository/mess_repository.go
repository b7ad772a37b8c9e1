package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/pkg/database"
)

const menuColumns = "id, hostel_id, menu_date, meal_type, items, is_special, notes, created_by, created_at, updated_at"

// menuOrder sorts meals in service order rather than alphabetically.
const menuOrder = `ORDER BY menu_date, CASE meal_type WHEN 'BREAKFAST' THEN 1 WHEN 'LUNCH' THEN 2 WHEN 'SNACKS' THEN 3 ELSE 4 END`

// MessRepository persists menus and feedback.
type MessRepository struct {
	db *sqlx.DB
}

// NewMessRepository constructs a MessRepository.
func NewMessRepository(db *sqlx.DB) *MessRepository {
	return &MessRepository{db: db}
}

// UpsertMenu creates or replaces the menu for (hostel, date, meal) and loads
// the stored row back into menu.
func (r *MessRepository) UpsertMenu(ctx context.Context, menu *models.MessMenu) error {
	if menu.ID == "" {
		menu.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	const query = `INSERT INTO mess_menus (id, hostel_id, menu_date, meal_type, items, is_special, notes, created_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        ON CONFLICT (hostel_id, menu_date, meal_type) DO UPDATE SET items = EXCLUDED.items, is_special = EXCLUDED.is_special,
            notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
        RETURNING ` + menuColumns
	row := database.Executor(ctx, r.db).QueryRowxContext(ctx, query, menu.ID, menu.HostelID, menu.MenuDate, menu.MealType, menu.Items,
		menu.IsSpecial, menu.Notes, menu.CreatedBy, now)
	if err := row.StructScan(menu); err != nil {
		return fmt.Errorf("upsert mess menu: %w", err)
	}
	return nil
}

// FindMenu returns a menu by identifier.
func (r *MessRepository) FindMenu(ctx context.Context, id string) (*models.MessMenu, error) {
	var menu models.MessMenu
	if err := database.Executor(ctx, r.db).GetContext(ctx, &menu, "SELECT "+menuColumns+" FROM mess_menus WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find mess menu: %w", err)
	}
	return &menu, nil
}

// DeleteMenu removes a menu and, by cascade, its feedback.
func (r *MessRepository) DeleteMenu(ctx context.Context, id string) error {
	res, err := database.Executor(ctx, r.db).ExecContext(ctx, `DELETE FROM mess_menus WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mess menu: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListMenus returns a hostel's menus between from and to inclusive.
func (r *MessRepository) ListMenus(ctx context.Context, hostelID string, from, to time.Time) ([]models.MessMenu, error) {
	query := "SELECT " + menuColumns + " FROM mess_menus WHERE hostel_id = $1 AND menu_date BETWEEN $2 AND $3 " + menuOrder
	var menus []models.MessMenu
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &menus, query, hostelID, from, to); err != nil {
		return nil, fmt.Errorf("list mess menus: %w", err)
	}
	return menus, nil
}

// CreateFeedback stores a rating. A second rating from the same student
// violates uq_mess_feedback.
func (r *MessRepository) CreateFeedback(ctx context.Context, feedback *models.MessFeedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	feedback.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO mess_feedback (id, menu_id, student_id, rating, comment, created_at) VALUES (:id, :menu_id, :student_id, :rating, :comment, :created_at)`
	if _, err := database.Executor(ctx, r.db).NamedExecContext(ctx, query, feedback); err != nil {
		return fmt.Errorf("create mess feedback: %w", err)
	}
	return nil
}

// RatingDistribution counts ratings for a menu.
func (r *MessRepository) RatingDistribution(ctx context.Context, menuID string) ([]models.RatingCount, error) {
	const query = `SELECT rating, COUNT(*) AS count FROM mess_feedback WHERE menu_id = $1 GROUP BY rating ORDER BY rating`
	var counts []models.RatingCount
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &counts, query, menuID); err != nil {
		return nil, fmt.Errorf("mess feedback distribution: %w", err)
	}
	return counts, nil
}

// ListFeedback returns a menu's feedback newest first.
func (r *MessRepository) ListFeedback(ctx context.Context, menuID string, limit int) ([]models.MessFeedback, error) {
	query := fmt.Sprintf(`SELECT id, menu_id, student_id, rating, comment, created_at FROM mess_feedback WHERE menu_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var feedback []models.MessFeedback
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &feedback, query, menuID); err != nil {
		return nil, fmt.Errorf("list mess feedback: %w", err)
	}
	return feedback, nil
}
