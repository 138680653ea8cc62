package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User represents a system user
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         Role       `json:"role" db:"role"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// IsExpired reports whether the account has passed its expiry.
func (u *User) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && !now.Before(*u.ExpiresAt)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CreateUserRequest represents user creation parameters
type CreateUserRequest struct {
	Username  string     `json:"username" binding:"required,min=3,max=64,alphanum"`
	Email     string     `json:"email" binding:"omitempty,email"`
	Password  string     `json:"password" binding:"required,min=8"`
	Role      Role       `json:"role" binding:"omitempty,oneof=admin user"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type UpdatePasswordRequest struct {
	Password string `json:"password" binding:"required,min=8"`
}
