package repository

import (
	"context"
	"errors"

	"identity-service/backend/internal/audit/domain"
)

var (
	// ErrAuditImmutable is returned when the store rejects a change to an existing audit row.
	ErrAuditImmutable = errors.New("audit log is append-only")
	// ErrNoTransaction is returned when an append is attempted outside a transaction.
	ErrNoTransaction = errors.New("audit append requires a transaction")
)

// Repository defines persistence for the audit log. There is no update or delete.
type Repository interface {
	// Create appends e inside the transaction carried by ctx.
	Create(ctx context.Context, e *domain.Entry) error
	List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error)
}
