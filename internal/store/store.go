// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/testcraft/internal/domain"
)

// ViolationResult reports the account state after a violation was appended.
type ViolationResult struct {
	ViolationCount int
	IsBlocked      bool
	// NewlyBlocked is true when this append moved the account into the blocked state.
	NewlyBlocked   bool
	BlockExpiresAt *time.Time
}

// Repository defines the interface for persisting users, violations and sessions.
type Repository interface {
	// GetUser retrieves a user and its violations. Returns (nil, nil) when unknown.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUserProfile creates the user on first login or refreshes its
	// profile and last login time. Abuse state is never touched.
	UpsertUserProfile(ctx context.Context, userID string, profile domain.Profile, at time.Time) (*domain.User, error)

	// AppendViolation records a violation and, in the same transaction, blocks
	// the account until blockUntil once it holds at least threshold violations.
	// An unknown user is created with an empty profile.
	AppendViolation(ctx context.Context, userID string, v domain.Violation, threshold int, blockUntil time.Time) (ViolationResult, error)

	// ClearExpiredBlock unblocks the user if its block expired at or before now.
	// Returns true only for the call that performed the transition.
	ClearExpiredBlock(ctx context.Context, userID string, now time.Time) (bool, error)

	// ClearAllExpiredBlocks unblocks every user whose block expired at or before now.
	ClearAllExpiredBlocks(ctx context.Context, now time.Time) (int64, error)

	// CreateSession persists an issued bearer session.
	CreateSession(ctx context.Context, session *domain.AuthSession) error

	// GetSession retrieves a session by token. Returns (nil, nil) when unknown.
	GetSession(ctx context.Context, token string) (*domain.AuthSession, error)

	// DeleteSession revokes a session.
	DeleteSession(ctx context.Context, token string) error

	// DeleteExpiredSessions removes sessions that expired at or before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
