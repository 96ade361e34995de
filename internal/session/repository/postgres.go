package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"identity-service/backend/internal/db"
	"identity-service/backend/internal/session/domain"
)

const familyColumns = `id, user_id, org_id, generation, secret_hash, revoked_at, expires_at, created_at, last_seen_at`

type PostgresRepository struct {
	store *db.Store
}

// NewPostgresRepository returns a session repository backed by store.
func NewPostgresRepository(store *db.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

// GetByID returns the family for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Family, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var f domain.Family
	err := r.store.Conn(ctx).GetContext(ctx, &f, `SELECT `+familyColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// Create persists a new family. The family must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, f *domain.Family) error {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, org_id, generation, secret_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.UserID, f.OrgID, f.Generation, f.SecretHash, f.ExpiresAt, f.CreatedAt)
	return err
}

// Advance is the compare-and-advance step of refresh rotation.
func (r *PostgresRepository) Advance(ctx context.Context, id string, from int64, secretHash string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE sessions SET generation = $2 + 1, secret_hash = $3, last_seen_at = $4
		WHERE id = $1 AND generation = $2 AND revoked_at IS NULL`,
		id, from, secretHash, at)
}

// Revoke marks the family revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
}

// RevokeAllByUser revokes all active families of the user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	res, err := r.store.Conn(ctx).ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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
