package repository

import (
	"context"

	"identity-service/backend/internal/organization/domain"
)

// Repository defines persistence for organizations.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Org, error)
	// GetForUpdate is GetByID holding a row lock until the caller's transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Org, error)
	Create(ctx context.Context, o *domain.Org) error
	Update(ctx context.Context, o *domain.Org) error
	// ListByMember returns the orgs userID belongs to; approvedOnly skips pending memberships.
	ListByMember(ctx context.Context, userID string, approvedOnly bool) ([]*domain.Org, error)
}
