package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"identity-service/backend/internal/audit/domain"
	"identity-service/backend/internal/db"
)

func newStore(t *testing.T) (*db.Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return db.NewStore(sqlx.NewDb(raw, "pgx"), time.Second), mock
}

func entry() *domain.Entry {
	return &domain.Entry{
		Action:     "org.approve_user",
		EntityType: "membership",
		EntityID:   "o1:u1",
		ActorID:    sql.NullString{String: "u2", Valid: true},
		OrgID:      sql.NullString{String: "o1", Valid: true},
		Details:    domain.Details{"role": "agent"},
		CreatedAt:  time.Now(),
	}
}

func TestCreate_RequiresTransaction(t *testing.T) {
	store, mock := newStore(t)
	r := NewPostgresRepository(store)
	if err := r.Create(context.Background(), entry()); !errors.Is(err, ErrNoTransaction) {
		t.Fatalf("want ErrNoTransaction, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_InsideTransaction(t *testing.T) {
	store, mock := newStore(t)
	r := NewPostgresRepository(store)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("org.approve_user", "membership", "o1:u1", "u2", "o1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		return r.Create(ctx, entry())
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// The append-only trigger raises restrict_violation for UPDATE, DELETE and TRUNCATE whatever the
// caller; this checks the error surfaces as ErrAuditImmutable for every statement kind.
func TestTriggerRejection_SurfacesAsImmutable(t *testing.T) {
	stmts := []string{
		"UPDATE audit_log SET action = 'x' WHERE id = 1",
		"DELETE FROM audit_log WHERE id = 1",
		"TRUNCATE audit_log",
	}
	for _, stmt := range stmts {
		t.Run(stmt, func(t *testing.T) {
			store, mock := newStore(t)
			mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnError(&pgconn.PgError{
				Code:    "23001",
				Message: "audit_log is append-only: UPDATE rejected",
			})
			_, err := store.Conn(context.Background()).ExecContext(context.Background(), stmt)
			if !errors.Is(classify(err), ErrAuditImmutable) {
				t.Errorf("want ErrAuditImmutable, got %v", err)
			}
		})
	}
}

func TestList_Filters(t *testing.T) {
	store, mock := newStore(t)
	r := NewPostgresRepository(store)
	cols := []string{"id", "action", "entity_type", "entity_id", "user_id", "org_id", "details", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log WHERE org_id = $1 AND id < $2 ORDER BY id DESC LIMIT $3")).
		WithArgs("o1", int64(10), 500).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(9), "org.link_user", "membership", "o1:u1", "u1", "o1", []byte(`{"role":"agent"}`), time.Now()))

	list, err := r.List(context.Background(), domain.Filter{OrgID: "o1", BeforeID: 10, Limit: 1000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != 9 || list[0].Details["role"] != "agent" {
		t.Errorf("list = %+v", list)
	}
}

func TestList_DefaultLimit(t *testing.T) {
	store, mock := newStore(t)
	r := NewPostgresRepository(store)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log ORDER BY id DESC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := r.List(context.Background(), domain.Filter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
}
