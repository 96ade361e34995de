package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Entry is one immutable audit record. ID is assigned by the store and strictly increasing.
type Entry struct {
	ID         int64          `db:"id" json:"id"`
	Action     string         `db:"action" json:"action"`
	EntityType string         `db:"entity_type" json:"entity_type"`
	EntityID   string         `db:"entity_id" json:"entity_id"`
	ActorID    sql.NullString `db:"user_id" json:"-"`
	OrgID      sql.NullString `db:"org_id" json:"-"`
	Details    Details        `db:"details" json:"details"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Details is the structured payload of an entry, stored as JSONB.
type Details map[string]any

// Value implements driver.Valuer.
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *Details) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*d = Details{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("details: unsupported source type")
	}
	return json.Unmarshal(b, d)
}

// Filter selects entries for listing. Empty OrgID lists across all orgs.
type Filter struct {
	OrgID    string
	EntityID string
	BeforeID int64
	Limit    int
}
