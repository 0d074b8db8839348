package domain

import (
	"errors"
	"time"
)

// User is a registered account (the principal that owns devices).
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	// UserStatusActive allows sign-in.
	UserStatusActive UserStatus = "active"
	// UserStatusPending is set at registration when out-of-band verification is required.
	UserStatusPending UserStatus = "pending"
	// UserStatusDisabled blocks sign-in.
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
