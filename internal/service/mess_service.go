package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type messRepository interface {
	UpsertMenu(ctx context.Context, menu *models.MessMenu) error
	FindMenu(ctx context.Context, id string) (*models.MessMenu, error)
	DeleteMenu(ctx context.Context, id string) error
	ListMenus(ctx context.Context, hostelID string, from, to time.Time) ([]models.MessMenu, error)
	CreateFeedback(ctx context.Context, feedback *models.MessFeedback) error
	RatingDistribution(ctx context.Context, menuID string) ([]models.RatingCount, error)
	ListFeedback(ctx context.Context, menuID string, limit int) ([]models.MessFeedback, error)
}

// MessConfig tunes menu caching and the calendar feed.
type MessConfig struct {
	CacheTTL time.Duration
	Location *time.Location
}

type mealWindow struct {
	start, end time.Duration
}

var mealWindows = map[models.MealType]mealWindow{
	models.MealBreakfast: {7*time.Hour + 30*time.Minute, 9 * time.Hour},
	models.MealLunch:     {12*time.Hour + 30*time.Minute, 14 * time.Hour},
	models.MealSnacks:    {16*time.Hour + 30*time.Minute, 17*time.Hour + 30*time.Minute},
	models.MealDinner:    {19*time.Hour + 30*time.Minute, 21 * time.Hour},
}

// MessService plans hostel menus and collects meal feedback.
type MessService struct {
	repo      messRepository
	hostels   hostelReader
	students  leaveStudentReader
	cache     *CacheService
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
	config    MessConfig
	now       func() time.Time
}

// NewMessService constructs a MessService.
func NewMessService(repo messRepository, hostels hostelReader, students leaveStudentReader, cache *CacheService, audit auditWriter, validate *validator.Validate, logger *zap.Logger, config MessConfig) *MessService {
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &MessService{
		repo:      repo,
		hostels:   hostels,
		students:  students,
		cache:     cache,
		audit:     audit,
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		config:    config,
		now:       time.Now,
	}
}

// UpsertMenu creates or replaces the menu for a hostel meal.
func (s *MessService) UpsertMenu(ctx context.Context, actor models.Actor, req dto.UpsertMenuRequest) (*models.MessMenu, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid menu payload")
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		return nil, err
	}
	items := normalizeMenuItems(req.Items)
	if len(items) == 0 {
		return nil, validationFailed("menu must list at least one item")
	}
	if _, err := s.hostels.FindByID(ctx, req.HostelID); err != nil {
		return nil, lookupError(err, "hostel not found", "failed to load hostel")
	}

	menu := &models.MessMenu{
		HostelID:  req.HostelID,
		MenuDate:  date,
		MealType:  req.MealType,
		Items:     items,
		IsSpecial: req.IsSpecial,
		Notes:     strPtr(strings.TrimSpace(req.Notes)),
		CreatedBy: strPtr(actor.UserID),
	}
	if err := s.repo.UpsertMenu(ctx, menu); err != nil {
		return nil, appErrors.Internal(err, "failed to save menu")
	}
	s.invalidateWeek(ctx, menu.HostelID)
	recordAudit(ctx, s.audit, s.logger, actor, "MESS_MENU_UPSERT", "mess_menu", menu.ID, nil, menu)
	return menu, nil
}

// GetMenu returns a menu by identifier.
func (s *MessService) GetMenu(ctx context.Context, id string) (*models.MessMenu, error) {
	menu, err := s.repo.FindMenu(ctx, id)
	if err != nil {
		return nil, lookupError(err, "menu not found", "failed to load menu")
	}
	return menu, nil
}

// DeleteMenu removes a menu together with its feedback.
func (s *MessService) DeleteMenu(ctx context.Context, actor models.Actor, id string) error {
	menu, err := s.GetMenu(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteMenu(ctx, id); err != nil {
		return lookupError(err, "menu not found", "failed to delete menu")
	}
	s.invalidateWeek(ctx, menu.HostelID)
	recordAudit(ctx, s.audit, s.logger, actor, "MESS_MENU_DELETE", "mess_menu", id, menu, nil)
	return nil
}

// DailyMenu returns a hostel's meals for one date in service order.
func (s *MessService) DailyMenu(ctx context.Context, hostelID, rawDate string) (*models.DailyMenu, error) {
	date, err := parseDate(rawDate, "date")
	if err != nil {
		return nil, err
	}
	menus, err := s.repo.ListMenus(ctx, hostelID, date, date)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load daily menu")
	}
	if menus == nil {
		menus = []models.MessMenu{}
	}
	return &models.DailyMenu{Date: date, Meals: menus}, nil
}

// WeeklyMenu returns the Monday-to-Sunday week containing weekStart. An empty
// weekStart means the current week.
func (s *MessService) WeeklyMenu(ctx context.Context, hostelID, weekStart string) (*models.WeeklyMenu, bool, error) {
	monday, err := s.resolveWeek(weekStart)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.hostels.FindByID(ctx, hostelID); err != nil {
		return nil, false, lookupError(err, "hostel not found", "failed to load hostel")
	}
	key := messWeekCacheKey(hostelID, monday)
	return cachedLoad(ctx, s.cache, key, s.config.CacheTTL, func(ctx context.Context) (*models.WeeklyMenu, error) {
		sunday := monday.AddDate(0, 0, 6)
		menus, err := s.repo.ListMenus(ctx, hostelID, monday, sunday)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load weekly menu")
		}
		return groupWeek(hostelID, monday, menus), nil
	})
}

// WeeklyCalendar renders the week's menus as an iCalendar feed.
func (s *MessService) WeeklyCalendar(ctx context.Context, hostelID, weekStart string) (string, error) {
	week, _, err := s.WeeklyMenu(ctx, hostelID, weekStart)
	if err != nil {
		return "", err
	}
	hostel, err := s.hostels.FindByID(ctx, hostelID)
	if err != nil {
		return "", lookupError(err, "hostel not found", "failed to load hostel")
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//hostel-api//mess menu//EN")
	cal.SetXWRCalName(hostel.Name + " mess menu")
	stamp := s.now().UTC()
	for _, day := range week.Days {
		for _, meal := range day.Meals {
			window := mealWindows[meal.MealType]
			local := time.Date(day.Date.Year(), day.Date.Month(), day.Date.Day(), 0, 0, 0, 0, s.config.Location)
			event := cal.AddEvent(fmt.Sprintf("%s@hostel-api", meal.ID))
			event.SetDtStampTime(stamp)
			event.SetStartAt(local.Add(window.start))
			event.SetEndAt(local.Add(window.end))
			summary := cases.Title(language.English).String(strings.ToLower(string(meal.MealType)))
			if meal.IsSpecial {
				summary += " (special)"
			}
			event.SetSummary(summary)
			event.SetDescription(strings.Join(meal.Items, ", "))
			event.SetLocation(hostel.Name)
		}
	}
	return cal.Serialize(), nil
}

// SubmitFeedback records the acting student's rating of a served meal.
func (s *MessService) SubmitFeedback(ctx context.Context, actor models.Actor, menuID string, req dto.MenuFeedbackRequest) (*models.MessFeedback, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "rating must be between 1 and 5")
	}
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbidden("only residents can rate meals")
		}
		return nil, appErrors.Internal(err, "failed to load student profile")
	}
	menu, err := s.GetMenu(ctx, menuID)
	if err != nil {
		return nil, err
	}
	if menu.HostelID != student.HostelID {
		return nil, forbidden("menu belongs to another hostel")
	}
	if menu.MenuDate.After(truncateDay(s.now())) {
		return nil, businessRule("meals can only be rated once served")
	}

	feedback := &models.MessFeedback{
		MenuID:    menu.ID,
		StudentID: student.ID,
		Rating:    req.Rating,
		Comment:   strPtr(strings.TrimSpace(req.Comment)),
	}
	if err := s.repo.CreateFeedback(ctx, feedback); err != nil {
		if mapped := appErrors.FromPostgres(err, "feedback already submitted for this meal"); mapped != nil {
			return nil, mapped
		}
		return nil, appErrors.Internal(err, "failed to save feedback")
	}
	return feedback, nil
}

// FeedbackSummary aggregates a menu's ratings.
func (s *MessService) FeedbackSummary(ctx context.Context, menuID string) (*models.FeedbackSummary, error) {
	if _, err := s.GetMenu(ctx, menuID); err != nil {
		return nil, err
	}
	counts, err := s.repo.RatingDistribution(ctx, menuID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load feedback")
	}
	summary := &models.FeedbackSummary{MenuID: menuID, Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	total := 0
	for _, c := range counts {
		summary.Distribution[c.Rating] = c.Count
		summary.Count += c.Count
		total += c.Rating * c.Count
	}
	if summary.Count > 0 {
		summary.Average = math.Round(float64(total)/float64(summary.Count)*100) / 100
	}
	return summary, nil
}

// ListFeedback returns a menu's most recent feedback.
func (s *MessService) ListFeedback(ctx context.Context, menuID string, limit int) ([]models.MessFeedback, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	feedback, err := s.repo.ListFeedback(ctx, menuID, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list feedback")
	}
	if feedback == nil {
		feedback = []models.MessFeedback{}
	}
	return feedback, nil
}

func (s *MessService) resolveWeek(raw string) (time.Time, error) {
	day := truncateDay(s.now())
	if raw != "" {
		parsed, err := parseDate(raw, "week_start")
		if err != nil {
			return time.Time{}, err
		}
		day = parsed
	}
	return mondayOf(day), nil
}

func (s *MessService) invalidateWeek(ctx context.Context, hostelID string) {
	if err := s.cache.Invalidate(ctx, messWeekCachePattern(hostelID)); err != nil {
		s.logger.Warn("failed to invalidate weekly menu cache", zap.String("hostel_id", hostelID), zap.Error(err))
	}
}

// normalizeMenuItems trims and title-cases item names, dropping blanks and
// case-insensitive duplicates while keeping the first occurrence's position.
func normalizeMenuItems(raw []string) []string {
	caser := cases.Title(language.English)
	seen := make(map[string]struct{}, len(raw))
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		name := strings.Join(strings.Fields(item), " ")
		if name == "" {
			continue
		}
		name = caser.String(name)
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, name)
	}
	return items
}

func mondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return truncateDay(day).AddDate(0, 0, -offset)
}

func groupWeek(hostelID string, monday time.Time, menus []models.MessMenu) *models.WeeklyMenu {
	week := &models.WeeklyMenu{HostelID: hostelID, WeekStart: monday, WeekEnd: monday.AddDate(0, 0, 6), Days: make([]models.DailyMenu, 7)}
	for i := range week.Days {
		week.Days[i] = models.DailyMenu{Date: monday.AddDate(0, 0, i), Meals: []models.MessMenu{}}
	}
	for _, menu := range menus {
		idx := int(truncateDay(menu.MenuDate).Sub(monday).Hours() / 24)
		if idx < 0 || idx > 6 {
			continue
		}
		week.Days[idx].Meals = append(week.Days[idx].Meals, menu)
	}
	return week
}

func messWeekCacheKey(hostelID string, monday time.Time) string {
	return "mess:weekly:" + hostelID + ":" + formatDay(monday)
}

func messWeekCachePattern(hostelID string) string {
	return "mess:weekly:" + hostelID + ":*"
}
