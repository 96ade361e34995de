package domain

import (
	"time"

	"identity-service/backend/internal/platform/rbac"
)

// Membership links a user to an organization with a role. (OrgID, UserID) is unique.
type Membership struct {
	OrgID     string              `db:"org_id"`
	UserID    string              `db:"user_id"`
	Role      rbac.MembershipRole `db:"role"`
	Status    Status              `db:"status"`
	CreatedAt time.Time           `db:"created_at"`
	UpdatedAt time.Time           `db:"updated_at"`
}

// Status is the membership state. An absent row is the third state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

// Approved reports whether the membership grants its role.
func (m *Membership) Approved() bool { return m != nil && m.Status == StatusApproved }
