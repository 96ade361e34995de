package rbac

import (
	"context"
	"errors"
	"fmt"

	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/server/interceptors"
)

// OrgRoleResolver returns a user's membership role in an org when the membership is approved.
// Pending or missing memberships report ok=false.
type OrgRoleResolver interface {
	ApprovedRole(ctx context.Context, orgID, userID string) (role MembershipRole, ok bool, err error)
}

// Requirement is what an operation needs: an org-scope permission, and optionally a global-scope
// permission that is accepted instead. A zero GlobalAlt means the org permission is the only way in.
type Requirement struct {
	Org       Permission
	GlobalAlt Permission
}

// CheckOrgPermission authorizes userID for p in orgID through their approved membership.
func CheckOrgPermission(ctx context.Context, resolver OrgRoleResolver, userID, orgID string, p Permission) error {
	if userID == "" || orgID == "" {
		return fmt.Errorf("user and org required: %w", apperr.ErrForbidden)
	}
	role, ok, err := resolver.ApprovedRole(ctx, orgID, userID)
	if err != nil {
		return fmt.Errorf("resolve membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("not an approved member of org %s: %w", orgID, apperr.ErrForbidden)
	}
	return Authorize(role, Org(orgID), p)
}

// CheckGlobalPermission authorizes a global role string (as carried in the access token) for p.
// Unknown role strings fail closed.
func CheckGlobalPermission(role string, p Permission) error {
	r, err := ParseGlobalRole(role)
	if err != nil {
		return fmt.Errorf("%v: %w", err, apperr.ErrForbidden)
	}
	return Authorize(r, Global(), p)
}

// Check authorizes userID against req in orgID. The org permission is tried first; the global
// alternative is consulted only when the org check is forbidden and req declares one.
func (req Requirement) Check(ctx context.Context, resolver OrgRoleResolver, userID, globalRole, orgID string) error {
	err := CheckOrgPermission(ctx, resolver, userID, orgID, req.Org)
	if err == nil || req.GlobalAlt == 0 || !errors.Is(err, apperr.ErrForbidden) {
		return err
	}
	if gerr := CheckGlobalPermission(globalRole, req.GlobalAlt); gerr != nil {
		return err
	}
	return nil
}

// RequireOrgPermission checks the authenticated caller in ctx for p in orgID.
// Returns the caller's user id on success.
func RequireOrgPermission(ctx context.Context, resolver OrgRoleResolver, orgID string, p Permission) (string, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return "", fmt.Errorf("no authenticated user: %w", apperr.ErrForbidden)
	}
	if err := CheckOrgPermission(ctx, resolver, userID, orgID, p); err != nil {
		return "", err
	}
	return userID, nil
}

// RequireGlobalPermission checks the caller's global role from the verified claims in ctx.
// Returns the caller's user id on success.
func RequireGlobalPermission(ctx context.Context, p Permission) (string, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return "", fmt.Errorf("no authenticated user: %w", apperr.ErrForbidden)
	}
	role, _ := interceptors.GetRole(ctx)
	if err := CheckGlobalPermission(role, p); err != nil {
		return "", err
	}
	return userID, nil
}
