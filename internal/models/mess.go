package models

import (
	"time"

	"github.com/lib/pq"
)

// MealType names a meal service.
type MealType string

const (
	MealBreakfast MealType = "BREAKFAST"
	MealLunch     MealType = "LUNCH"
	MealSnacks    MealType = "SNACKS"
	MealDinner    MealType = "DINNER"
)

var mealOrder = map[MealType]int{MealBreakfast: 1, MealLunch: 2, MealSnacks: 3, MealDinner: 4}

// Valid reports whether the meal type is known.
func (m MealType) Valid() bool {
	_, ok := mealOrder[m]
	return ok
}

// Order is the position of the meal within a day.
func (m MealType) Order() int {
	return mealOrder[m]
}

// MessMenu is the planned menu for one meal.
type MessMenu struct {
	ID        string         `db:"id" json:"id"`
	HostelID  string         `db:"hostel_id" json:"hostel_id"`
	MenuDate  time.Time      `db:"menu_date" json:"menu_date"`
	MealType  MealType       `db:"meal_type" json:"meal_type"`
	Items     pq.StringArray `db:"items" json:"items"`
	IsSpecial bool           `db:"is_special" json:"is_special"`
	Notes     *string        `db:"notes" json:"notes,omitempty"`
	CreatedBy *string        `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// DailyMenu groups a day's meals in service order.
type DailyMenu struct {
	Date  time.Time  `json:"date"`
	Meals []MessMenu `json:"meals"`
}

// WeeklyMenu is a Monday-to-Sunday view of a hostel's menus.
type WeeklyMenu struct {
	HostelID  string      `json:"hostel_id"`
	WeekStart time.Time   `json:"week_start"`
	WeekEnd   time.Time   `json:"week_end"`
	Days      []DailyMenu `json:"days"`
}

// MessFeedback is a student's rating of a meal.
type MessFeedback struct {
	ID        string    `db:"id" json:"id"`
	MenuID    string    `db:"menu_id" json:"menu_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FeedbackSummary aggregates ratings for a menu.
type FeedbackSummary struct {
	MenuID       string      `json:"menu_id"`
	Count        int         `json:"count"`
	Average      float64     `json:"average"`
	Distribution map[int]int `json:"distribution"`
}

// RatingCount is one bucket of the rating distribution.
type RatingCount struct {
	Rating int `db:"rating"`
	Count  int `db:"count"`
}
