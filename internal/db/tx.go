package db

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jmoiron/sqlx"
)

type unitKey struct{}

// Transactor runs fn as one unit of work. Repositories called with the ctx passed to fn
// join the same transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Unit is the state of one unit of work: the transaction (nil for in-memory stores) and the
// callbacks to run once it commits.
type Unit struct {
	tx    *sqlx.Tx
	mu    sync.Mutex
	hooks []func()
}

// StartUnit binds a new unit over tx to ctx. Transactor implementations call it; a nil tx is
// allowed for stores without SQL transactions.
func StartUnit(ctx context.Context, tx *sqlx.Tx) (context.Context, *Unit) {
	u := &Unit{tx: tx}
	return context.WithValue(ctx, unitKey{}, u), u
}

// Committed runs the after-commit callbacks in registration order. Call it only after a
// successful commit.
func (u *Unit) Committed() {
	u.mu.Lock()
	hooks := u.hooks
	u.hooks = nil
	u.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func unitFrom(ctx context.Context) (*Unit, bool) {
	u, ok := ctx.Value(unitKey{}).(*Unit)
	return u, ok && u != nil
}

// InUnit reports whether ctx carries a unit of work.
func InUnit(ctx context.Context) bool {
	_, ok := unitFrom(ctx)
	return ok
}

// TxFrom returns the transaction bound to ctx, if any.
func TxFrom(ctx context.Context) (*sqlx.Tx, bool) {
	u, ok := unitFrom(ctx)
	if !ok || u.tx == nil {
		return nil, false
	}
	return u.tx, true
}

// AfterCommit registers fn to run once the unit in ctx commits. Rolled-back units drop it.
// Outside a unit fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	u, ok := unitFrom(ctx)
	if !ok {
		fn()
		return
	}
	u.mu.Lock()
	u.hooks = append(u.hooks, fn)
	u.mu.Unlock()
}

// WithinTx begins a transaction, binds it to ctx, and commits if fn returns nil.
// Any error or panic from fn rolls back. A nested call reuses the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InUnit(ctx) {
		return fn(ctx)
	}
	ctx, cancel := s.Bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("db: rollback: %v", rbErr)
			}
		}
	}()

	txCtx, unit := StartUnit(ctx, tx)
	if err = fn(txCtx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("db: commit: %w", err)
	}
	unit.Committed()
	return nil
}
