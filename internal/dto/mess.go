package dto

import "github.com/noah-isme/hostel-api/internal/models"

// UpsertMenuRequest creates or replaces the menu for a hostel meal.
type UpsertMenuRequest struct {
	HostelID  string          `json:"hostel_id" validate:"required,uuid4"`
	Date      string          `json:"date" validate:"required,date"`
	MealType  models.MealType `json:"meal_type" validate:"required,oneof=BREAKFAST LUNCH SNACKS DINNER"`
	Items     []string        `json:"items" validate:"required,min=1,max=30,dive,required,max=100"`
	IsSpecial bool            `json:"is_special"`
	Notes     string          `json:"notes" validate:"max=500"`
}

// MenuFeedbackRequest rates a meal.
type MenuFeedbackRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
}
