package auth

import "github.com/grantkeeper/grantkeeper/internal/rbac"

// User represents an account as needed for login.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         rbac.Role
}
