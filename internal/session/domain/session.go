package domain

import (
	"database/sql"
	"time"
)

// Family is one refresh-token rotation lineage. Its id is the fam claim; only the hash of the
// current refresh token is stored.
type Family struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	OrgID      sql.NullString `db:"org_id"`
	Generation int64          `db:"generation"`
	SecretHash string         `db:"secret_hash"`
	RevokedAt  *time.Time     `db:"revoked_at"`
	ExpiresAt  time.Time      `db:"expires_at"`
	CreatedAt  time.Time      `db:"created_at"`
	LastSeenAt *time.Time     `db:"last_seen_at"`
}

// Revoked reports whether the family was revoked.
func (f *Family) Revoked() bool { return f.RevokedAt != nil }

// Expired reports whether the family is past its expiry at now.
func (f *Family) Expired(now time.Time) bool { return !now.Before(f.ExpiresAt) }
