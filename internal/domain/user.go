// Package domain contains core domain types for the test case service.
package domain

import (
	"time"
)

// Profile holds the identity-provider fields refreshed on every login.
type Profile struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	PictureURL string `json:"picture"`
}

// User represents an authenticated account and its abuse tracking state.
type User struct {
	UserID         string      `json:"user_id"`
	Profile        Profile     `json:"profile"`
	CreatedAt      time.Time   `json:"created_at"`
	LastLoginAt    time.Time   `json:"last_login_at"`
	Violations     []Violation `json:"violations"`
	IsBlocked      bool        `json:"is_blocked"`
	BlockExpiresAt *time.Time  `json:"block_expires_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ViolationCount returns the number of recorded violations.
func (u *User) ViolationCount() int {
	return len(u.Violations)
}

// BlockRemaining returns the time until the block expires.
// Returns 0 if the user is not blocked or the block has already lapsed.
func (u *User) BlockRemaining(now time.Time) time.Duration {
	if !u.IsBlocked || u.BlockExpiresAt == nil {
		return 0
	}
	remaining := u.BlockExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
