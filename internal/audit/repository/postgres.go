package repository

import (
	"context"
	"fmt"
	"strings"

	"identity-service/backend/internal/audit/domain"
	"identity-service/backend/internal/db"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type PostgresRepository struct {
	store *db.Store
}

// NewPostgresRepository returns an audit log repository backed by store.
func NewPostgresRepository(store *db.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

// Create inserts the entry. The id comes from the sequence and is not read back.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	if _, ok := db.TxFrom(ctx); !ok {
		return ErrNoTransaction
	}
	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	_, err := r.store.Conn(ctx).ExecContext(ctx, `
		INSERT INTO audit_log (action, entity_type, entity_id, user_id, org_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Action, e.EntityType, e.EntityID, e.ActorID, e.OrgID, e.Details, e.CreatedAt)
	return classify(err)
}

// List returns entries newest first.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.OrgID != "" {
		args = append(args, f.OrgID)
		where = append(where, fmt.Sprintf("org_id = $%d", len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if f.BeforeID > 0 {
		args = append(args, f.BeforeID)
		where = append(where, fmt.Sprintf("id < $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	q := `SELECT id, action, entity_type, entity_id, user_id, org_id, details, created_at FROM audit_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	ctx, cancel := r.store.Bound(ctx)
	defer cancel()
	var out []*domain.Entry
	if err := r.store.Conn(ctx).SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func classify(err error) error {
	if db.AppendOnlyViolation(err) {
		return fmt.Errorf("%v: %w", err, ErrAuditImmutable)
	}
	return err
}
