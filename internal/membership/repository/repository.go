package repository

import (
	"context"

	"identity-service/backend/internal/membership/domain"
	"identity-service/backend/internal/platform/rbac"
)

// Repository defines persistence for memberships. Transitions are conditional on the current
// status so concurrent callers cannot both succeed.
type Repository interface {
	// Get returns the membership for (orgID, userID), or nil if absent.
	Get(ctx context.Context, orgID, userID string) (*domain.Membership, error)
	// Create inserts m. An existing row returns apperr.ErrConflict; an unknown org or user
	// returns apperr.ErrNotFound.
	Create(ctx context.Context, m *domain.Membership) error
	// Approve moves a pending row to approved and reports whether a row changed.
	Approve(ctx context.Context, orgID, userID string) (bool, error)
	// Delete removes the row only when it is in status and reports whether a row was removed.
	Delete(ctx context.Context, orgID, userID string, status domain.Status) (bool, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	// LockApprovedDirectors returns the approved directors of orgID, locking their rows until
	// the surrounding transaction ends.
	LockApprovedDirectors(ctx context.Context, orgID string) ([]string, error)
	// ApprovedRole implements rbac.OrgRoleResolver.
	ApprovedRole(ctx context.Context, orgID, userID string) (rbac.MembershipRole, bool, error)
}
