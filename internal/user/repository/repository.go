package repository

import (
	"context"

	"identity-service/backend/internal/user/domain"
)

// Repository defines persistence for users.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByINN(ctx context.Context, inn string) (*domain.User, error)
	// Create inserts u. A duplicate email or INN returns apperr.ErrConflict.
	Create(ctx context.Context, u *domain.User) error
	// UpdateStatus moves the user from one status to another. It reports false when the
	// current status is not from.
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	UpdateVerification(ctx context.Context, id string, v domain.Verification) error
	// IncrementAttempts bumps verification.attempts by one. It reports false when the
	// stored count is not from.
	IncrementAttempts(ctx context.Context, id string, from int) (bool, error)
	// ListByOrg returns the users holding an approved membership in orgID.
	ListByOrg(ctx context.Context, orgID string) ([]*domain.User, error)
}
