package dto

import "github.com/noah-isme/hostel-api/internal/models"

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	FullName string          `json:"full_name" validate:"required,max=150"`
	Phone    string          `json:"phone" validate:"omitempty,e164"`
	Role     models.UserRole `json:"role" validate:"required,oneof=SUPERADMIN ADMIN WARDEN STUDENT"`
	Active   bool            `json:"active"`
	Password string          `json:"password" validate:"required,min=8,max=72"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string          `json:"full_name" validate:"required,max=150"`
	Phone    *string         `json:"phone" validate:"omitempty,e164"`
	Role     models.UserRole `json:"role" validate:"required,oneof=SUPERADMIN ADMIN WARDEN STUDENT"`
	Active   *bool           `json:"active"`
}
