// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/agora-labs/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ProfileRepository persists personality profiles.
type ProfileRepository interface {
	// UpsertProfile creates or replaces a profile keyed by its ID.
	UpsertProfile(ctx context.Context, p domain.Profile) error

	// GetProfile retrieves a profile by ID. Returns ErrNotFound when absent.
	GetProfile(ctx context.Context, id string) (domain.Profile, error)

	// ListProfiles returns all profiles ordered by ID.
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
}

// SessionRepository persists chat sessions and their history.
type SessionRepository interface {
	// CreateSession inserts a new session row with its agent roster.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession loads a session with its full history. Returns ErrNotFound when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// AppendEntries appends history entries and bumps the session's updated_at
	// in a single transaction.
	AppendEntries(ctx context.Context, sessionID string, entries []domain.Entry, updatedAt time.Time) error

	// DeleteSession removes a session and its history.
	DeleteSession(ctx context.Context, id string) error

	// CleanupExpiredSessions removes sessions last updated before idleBefore.
	// Sessions whose ids are in keep are left alone.
	CleanupExpiredSessions(ctx context.Context, idleBefore time.Time, keep []string) (int64, error)
}

// Repository combines every persistence capability of the application.
type Repository interface {
	ProfileRepository
	SessionRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
