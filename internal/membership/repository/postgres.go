package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"identity-service/backend/internal/db"
	"identity-service/backend/internal/membership/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/rbac"
)

const membershipColumns = `org_id, user_id, role, status, created_at, updated_at`

type PostgresRepository struct {
	store *db.Store
}

// NewPostgresRepository returns a membership repository backed by store.
func NewPostgresRepository(store *db.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

// Get returns the membership for the given org and user, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, orgID, userID string) (*domain.Membership, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var m domain.Membership
	err := r.store.Conn(ctx).GetContext(ctx, &m,
		`SELECT `+membershipColumns+` FROM org_memberships WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Create persists the membership.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Membership) error {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx, `
		INSERT INTO org_memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.OrgID, m.UserID, string(m.Role), string(m.Status), m.CreatedAt, m.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return fmt.Errorf("membership already exists: %w", apperr.ErrConflict)
	}
	if db.ForeignKeyViolation(err) {
		return fmt.Errorf("org or user: %w", apperr.ErrNotFound)
	}
	return err
}

// Approve is the pending to approved transition.
func (r *PostgresRepository) Approve(ctx context.Context, orgID, userID string) (bool, error) {
	return r.exec(ctx, `
		UPDATE org_memberships SET status = 'approved', updated_at = now()
		WHERE org_id = $1 AND user_id = $2 AND status = 'pending'`, orgID, userID)
}

// Delete removes the membership if it is currently in status.
func (r *PostgresRepository) Delete(ctx context.Context, orgID, userID string, status domain.Status) (bool, error) {
	return r.exec(ctx,
		`DELETE FROM org_memberships WHERE org_id = $1 AND user_id = $2 AND status = $3`,
		orgID, userID, string(status))
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	res, err := r.store.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListByOrg returns all memberships of orgID, approved first.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var out []*domain.Membership
	err := r.store.Conn(ctx).SelectContext(ctx, &out, `
		SELECT `+membershipColumns+` FROM org_memberships
		WHERE org_id = $1
		ORDER BY status DESC, created_at, user_id`, orgID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LockApprovedDirectors selects approved director rows FOR UPDATE.
func (r *PostgresRepository) LockApprovedDirectors(ctx context.Context, orgID string) ([]string, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var ids []string
	err := r.store.Conn(ctx).SelectContext(ctx, &ids, `
		SELECT user_id FROM org_memberships
		WHERE org_id = $1 AND role = 'director' AND status = 'approved'
		ORDER BY user_id
		FOR UPDATE`, orgID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ApprovedRole returns the role of an approved membership.
func (r *PostgresRepository) ApprovedRole(ctx context.Context, orgID, userID string) (rbac.MembershipRole, bool, error) {
	m, err := r.Get(ctx, orgID, userID)
	if err != nil || !m.Approved() {
		return "", false, err
	}
	return m.Role, true, nil
}
