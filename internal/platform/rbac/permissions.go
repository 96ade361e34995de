// Package rbac maps global and membership roles to the closed set of identity permissions.
package rbac

import (
	"errors"
	"fmt"

	"identity-service/backend/internal/platform/apperr"
)

// ErrUnknownRole is returned when a role string is not part of the closed enumeration.
var ErrUnknownRole = errors.New("unknown role")

// Permission is one identity-scoped action.
type Permission uint8

const (
	PermReadSelf Permission = iota + 1
	PermManageOwnOrg
	PermManageAnyOrg
	PermIssueCredentials
	PermViewAuditLog
	PermApproveMembership
	PermManageUsers
)

var permissionNames = map[Permission]string{
	PermReadSelf:          "read-self",
	PermManageOwnOrg:      "manage-own-org",
	PermManageAnyOrg:      "manage-any-org",
	PermIssueCredentials:  "issue-credentials",
	PermViewAuditLog:      "view-audit-log",
	PermApproveMembership: "approve-membership",
	PermManageUsers:       "manage-users",
}

// AllPermissions lists every permission in declaration order.
func AllPermissions() []Permission {
	return []Permission{
		PermReadSelf, PermManageOwnOrg, PermManageAnyOrg, PermIssueCredentials,
		PermViewAuditLog, PermApproveMembership, PermManageUsers,
	}
}

func (p Permission) String() string {
	if s, ok := permissionNames[p]; ok {
		return s
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// ParsePermission returns the permission named s.
func ParsePermission(s string) (Permission, error) {
	for p, name := range permissionNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("permission %q: %w", s, apperr.ErrValidation)
}

type permSet uint8

func setOf(ps ...Permission) permSet {
	var s permSet
	for _, p := range ps {
		s |= 1 << p
	}
	return s
}

func (s permSet) has(p Permission) bool {
	if _, ok := permissionNames[p]; !ok {
		return false
	}
	return s&(1<<p) != 0
}

// Role is either a GlobalRole or a MembershipRole.
type Role interface {
	String() string
	roleKind() roleKind
}

type roleKind uint8

const (
	kindGlobal roleKind = iota + 1
	kindMembership
)

// GlobalRole is the user-level role stored on the user record.
type GlobalRole string

const (
	GlobalAdmin      GlobalRole = "admin"
	GlobalDirector   GlobalRole = "director"
	GlobalAccountant GlobalRole = "accountant"
	GlobalViewer     GlobalRole = "viewer"
)

func (r GlobalRole) String() string { return string(r) }
func (GlobalRole) roleKind() roleKind { return kindGlobal }

// MembershipRole is the per-organization role stored on a membership row.
type MembershipRole string

const (
	MemberDirector   MembershipRole = "director"
	MemberAccountant MembershipRole = "accountant"
	MemberAgent      MembershipRole = "agent"
)

func (r MembershipRole) String() string { return string(r) }
func (MembershipRole) roleKind() roleKind { return kindMembership }

var globalTable = map[GlobalRole]permSet{
	GlobalAdmin:      setOf(AllPermissions()...),
	GlobalDirector:   setOf(PermReadSelf, PermManageOwnOrg, PermIssueCredentials),
	GlobalAccountant: setOf(PermReadSelf, PermManageOwnOrg, PermIssueCredentials),
	GlobalViewer:     setOf(PermReadSelf, PermManageOwnOrg, PermIssueCredentials),
}

var membershipTable = map[MembershipRole]permSet{
	MemberDirector:   setOf(PermReadSelf, PermManageOwnOrg, PermApproveMembership, PermViewAuditLog, PermIssueCredentials),
	MemberAccountant: setOf(PermReadSelf, PermIssueCredentials),
	MemberAgent:      setOf(PermReadSelf),
}

// ParseGlobalRole validates s against the closed set of global roles.
func ParseGlobalRole(s string) (GlobalRole, error) {
	r := GlobalRole(s)
	if _, ok := globalTable[r]; !ok {
		return "", fmt.Errorf("global role %q: %w", s, ErrUnknownRole)
	}
	return r, nil
}

// ParseMembershipRole validates s against the closed set of membership roles.
func ParseMembershipRole(s string) (MembershipRole, error) {
	r := MembershipRole(s)
	if _, ok := membershipTable[r]; !ok {
		return "", fmt.Errorf("membership role %q: %w", s, ErrUnknownRole)
	}
	return r, nil
}

// Scope is the target of an action: global, or one organization.
type Scope struct {
	orgID string
}

// Global is the platform-wide scope.
func Global() Scope { return Scope{} }

// Org is the scope of a single organization.
func Org(orgID string) Scope { return Scope{orgID: orgID} }

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool { return s.orgID == "" }

// OrgID returns the organization of an org scope.
func (s Scope) OrgID() string { return s.orgID }

// Authorize reports whether role grants p in scope. Global roles are only read at global scope and
// membership roles only at org scope; any other combination, an unknown role or an unknown
// permission yields ErrForbidden. Roles never combine.
func Authorize(role Role, scope Scope, p Permission) error {
	var set permSet
	var ok bool
	switch r := role.(type) {
	case GlobalRole:
		if scope.IsGlobal() {
			set, ok = globalTable[r]
		}
	case MembershipRole:
		if !scope.IsGlobal() {
			set, ok = membershipTable[r]
		}
	}
	if !ok || !set.has(p) {
		return fmt.Errorf("%s in %s: %w", describe(role), scope, apperr.ErrForbidden)
	}
	return nil
}

func describe(role Role) string {
	if role == nil {
		return "no role"
	}
	return "role " + role.String()
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global scope"
	}
	return "org " + s.orgID
}
