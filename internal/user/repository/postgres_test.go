package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"identity-service/backend/internal/db"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/user/domain"
)

func newRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return NewPostgresRepository(db.NewStore(sqlx.NewDb(raw, "pgx"), time.Second)), mock
}

var userCols = []string{"id", "full_name", "inn", "email", "phone", "password_hash", "status", "role", "verification", "created_at", "updated_at"}

func TestGetByEmail_Found(t *testing.T) {
	r, mock := newRepo(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("ivan@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u1", "Ivan Petrov", "500100732259", "ivan@example.com", "", "hash",
			"verified", "director", []byte(`{"confirmed_at":"2026-01-02T03:04:05Z"}`), now, now))

	u, err := r.GetByEmail(context.Background(), "ivan@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u == nil || u.ID != "u1" || u.Status != domain.StatusVerified || u.Role != rbac.GlobalDirector {
		t.Fatalf("user = %+v", u)
	}
	if u.Verification.ConfirmedAt == nil {
		t.Error("verification not decoded")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	r, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userCols))

	u, err := r.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u != nil {
		t.Errorf("want nil user, got %+v", u)
	}
}

func TestCreate_DuplicateMapsToConflict(t *testing.T) {
	tests := []struct {
		constraint string
		field      string
	}{
		{"users_email_key", "email"},
		{"users_inn_key", "inn"},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			r, mock := newRepo(t)
			mock.ExpectExec("INSERT INTO users").
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			err := r.Create(context.Background(), &domain.User{ID: "u1", Status: domain.StatusPending, Role: rbac.GlobalViewer})
			if !errors.Is(err, apperr.ErrConflict) {
				t.Fatalf("want ErrConflict, got %v", err)
			}
			if !regexp.MustCompile(tt.field).MatchString(err.Error()) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestIncrementAttempts_KeyedOnCurrentCount(t *testing.T) {
	r, mock := newRepo(t)
	q := regexp.QuoteMeta("WHERE id = $1 AND COALESCE((verification->>'attempts')::int, 0) = $2")
	mock.ExpectExec(q).WithArgs("u1", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u1", 2).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.IncrementAttempts(context.Background(), "u1", 2)
	if err != nil || !ok {
		t.Fatalf("first IncrementAttempts = %v, %v", ok, err)
	}
	ok, err = r.IncrementAttempts(context.Background(), "u1", 2)
	if err != nil || ok {
		t.Fatalf("second IncrementAttempts = %v, %v; want false", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	r, mock := newRepo(t)
	q := regexp.QuoteMeta("UPDATE users SET status = $3, updated_at = now() WHERE id = $1 AND status = $2")
	mock.ExpectExec(q).WithArgs("u1", "pending", "verified").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u1", "pending", "verified").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.UpdateStatus(context.Background(), "u1", domain.StatusPending, domain.StatusVerified)
	if err != nil || !ok {
		t.Fatalf("first UpdateStatus = %v, %v", ok, err)
	}
	ok, err = r.UpdateStatus(context.Background(), "u1", domain.StatusPending, domain.StatusVerified)
	if err != nil || ok {
		t.Fatalf("second UpdateStatus = %v, %v; want false", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
