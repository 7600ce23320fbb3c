package users

import (
	"time"

	"github.com/grantkeeper/grantkeeper/internal/rbac"
)

// User represents a subject account as managed by admins.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest carries a new account's credentials and role.
type CreateRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=admin user"`
}
