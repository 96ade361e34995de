package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"identity-service/backend/internal/platform/rbac"
)

// User is the core user entity.
type User struct {
	ID           string          `db:"id"`
	FullName     string          `db:"full_name"`
	INN          string          `db:"inn"`
	Email        string          `db:"email"`
	Phone        string          `db:"phone"`
	PasswordHash string          `db:"password_hash"`
	Status       Status          `db:"status"`
	Role         rbac.GlobalRole `db:"role"`
	Verification Verification    `db:"verification"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusBlocked  Status = "blocked"
)

// CanTransition reports whether s may move to next. Blocked is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusVerified || next == StatusBlocked
	case StatusVerified:
		return next == StatusBlocked
	default:
		return false
	}
}

// Verification is the email confirmation state kept in users.verification (JSONB).
type Verification struct {
	CodeHash    string     `json:"code_hash,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
}

// Value implements driver.Valuer.
func (v Verification) Value() (driver.Value, error) {
	return json.Marshal(v)
}

// Scan implements sql.Scanner.
func (v *Verification) Scan(src any) error {
	switch b := src.(type) {
	case nil:
		*v = Verification{}
		return nil
	case []byte:
		return json.Unmarshal(b, v)
	case string:
		return json.Unmarshal([]byte(b), v)
	default:
		return errors.New("verification: unsupported source type")
	}
}
