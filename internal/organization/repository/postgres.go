package repository

import (
	"context"
	"database/sql"
	"errors"

	"identity-service/backend/internal/db"
	"identity-service/backend/internal/organization/domain"
)

const orgColumns = `id, name, inn, ogrn, email, phone, created_at, updated_at`

type PostgresRepository struct {
	store *db.Store
}

// NewPostgresRepository returns an organization repository backed by store.
func NewPostgresRepository(store *db.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

// GetByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Org, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var o domain.Org
	err := r.store.Conn(ctx).GetContext(ctx, &o, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// GetForUpdate selects the organization FOR UPDATE. Call it inside WithinTx.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*domain.Org, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var o domain.Org
	err := r.store.Conn(ctx).GetContext(ctx, &o, `SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// Create persists the organization. The org must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, o *domain.Org) error {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx, `
		INSERT INTO organizations (`+orgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Name, o.INN, o.OGRN, o.Email, o.Phone, o.CreatedAt, o.UpdatedAt)
	return err
}

// Update writes the mutable fields of o.
func (r *PostgresRepository) Update(ctx context.Context, o *domain.Org) error {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx, `
		UPDATE organizations SET name = $2, ogrn = $3, email = $4, phone = $5, updated_at = $6
		WHERE id = $1`,
		o.ID, o.Name, o.OGRN, o.Email, o.Phone, o.UpdatedAt)
	return err
}

// ListByMember returns orgs linked to userID, oldest membership first.
func (r *PostgresRepository) ListByMember(ctx context.Context, userID string, approvedOnly bool) ([]*domain.Org, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var out []*domain.Org
	err := r.store.Conn(ctx).SelectContext(ctx, &out, `
		SELECT o.id, o.name, o.inn, o.ogrn, o.email, o.phone, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_memberships m ON m.org_id = o.id
		WHERE m.user_id = $1 AND ($2 = false OR m.status = 'approved')
		ORDER BY m.created_at, o.id`, userID, approvedOnly)
	if err != nil {
		return nil, err
	}
	return out, nil
}
