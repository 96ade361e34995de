package repository

import (
	"context"
	"time"

	"identity-service/backend/internal/session/domain"
)

// Repository persists refresh rotation families.
type Repository interface {
	// GetByID returns the family for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Family, error)
	Create(ctx context.Context, f *domain.Family) error
	// Advance moves an unrevoked family from generation `from` to from+1 and stores the hash of the
	// new refresh token. It reports false when the family is revoked or no longer at `from`.
	Advance(ctx context.Context, id string, from int64, secretHash string, at time.Time) (bool, error)
	// Revoke marks one family revoked and reports whether it was active.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every active family of userID and returns how many changed.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}
