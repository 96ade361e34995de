package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"identity-service/backend/internal/db"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/user/domain"
)

const userColumns = `id, full_name, inn, email, phone, password_hash, status, role, verification, created_at, updated_at`

type PostgresRepository struct {
	store *db.Store
}

// NewPostgresRepository returns a user repository backed by store. Calls join the transaction in ctx if any.
func NewPostgresRepository(store *db.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given (normalized) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByINN returns the user with the given tax id, or nil if not found.
func (r *PostgresRepository) GetByINN(ctx context.Context, inn string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE inn = $1`, inn)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var u domain.User
	if err := r.store.Conn(ctx).GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.FullName, u.INN, u.Email, u.Phone, u.PasswordHash,
		string(u.Status), string(u.Role), u.Verification, u.CreatedAt, u.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok {
		field := "email"
		if constraint == "users_inn_key" {
			field = "inn"
		}
		return fmt.Errorf("user with this %s already exists: %w", field, apperr.ErrConflict)
	}
	return err
}

// UpdateStatus is a compare-and-set on status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	res, err := r.store.Conn(ctx).ExecContext(ctx,
		`UPDATE users SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateVerification replaces the verification payload.
func (r *PostgresRepository) UpdateVerification(ctx context.Context, id string, v domain.Verification) error {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx,
		`UPDATE users SET verification = $2, updated_at = now() WHERE id = $1`, id, v)
	return err
}

// IncrementAttempts bumps verification.attempts when it still equals from.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string, from int) (bool, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	res, err := r.store.Conn(ctx).ExecContext(ctx, `
		UPDATE users
		SET verification = jsonb_set(verification, '{attempts}', to_jsonb($2::int + 1)), updated_at = now()
		WHERE id = $1 AND COALESCE((verification->>'attempts')::int, 0) = $2`, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListByOrg returns approved members of orgID ordered by name.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.User, error) {
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var out []*domain.User
	err := r.store.Conn(ctx).SelectContext(ctx, &out, `
		SELECT u.id, u.full_name, u.inn, u.email, u.phone, u.password_hash, u.status, u.role,
		       u.verification, u.created_at, u.updated_at
		FROM users u
		JOIN org_memberships m ON m.user_id = u.id
		WHERE m.org_id = $1 AND m.status = 'approved'
		ORDER BY u.full_name, u.id`, orgID)
	if err != nil {
		return nil, err
	}
	return out, nil
}
