package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Options tunes the shared connection pool.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	// Timeout bounds every store call and every transaction.
	Timeout time.Duration
}

// DBTX is the query surface shared by *sqlx.DB and *sqlx.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store wraps the pool and hands repositories the right connection for the request:
// the transaction carried in ctx if there is one, otherwise the pool.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore returns a Store over db. timeout <= 0 means 5s.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// Open opens a Postgres pool using the pgx stdlib driver and pings it. Caller must call Close when done.
func Open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: DATABASE_URL is empty")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sqlx.DB { return s.db }

// Conn returns the transaction bound to ctx, or the pool.
func (s *Store) Conn(ctx context.Context) DBTX {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return s.db
}

// Bound returns ctx limited by the store timeout.
func (s *Store) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// PingContext reports whether the pool can reach Postgres. Used by the health checker.
func (s *Store) PingContext(ctx context.Context) error {
	ctx, cancel := s.Bound(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}
