package rbac

import (
	"errors"
	"testing"

	"identity-service/backend/internal/platform/apperr"
)

func TestAuthorize_GlobalTable(t *testing.T) {
	want := map[GlobalRole][]Permission{
		GlobalAdmin:      AllPermissions(),
		GlobalDirector:   {PermReadSelf, PermManageOwnOrg, PermIssueCredentials},
		GlobalAccountant: {PermReadSelf, PermManageOwnOrg, PermIssueCredentials},
		GlobalViewer:     {PermReadSelf, PermManageOwnOrg, PermIssueCredentials},
	}
	for role, granted := range want {
		allowed := map[Permission]bool{}
		for _, p := range granted {
			allowed[p] = true
		}
		for _, p := range AllPermissions() {
			err := Authorize(role, Global(), p)
			if allowed[p] && err != nil {
				t.Errorf("%s/%s: want allowed, got %v", role, p, err)
			}
			if !allowed[p] && !errors.Is(err, apperr.ErrForbidden) {
				t.Errorf("%s/%s: want ErrForbidden, got %v", role, p, err)
			}
		}
	}
}

func TestAuthorize_MembershipTable(t *testing.T) {
	want := map[MembershipRole][]Permission{
		MemberDirector:   {PermReadSelf, PermManageOwnOrg, PermApproveMembership, PermViewAuditLog, PermIssueCredentials},
		MemberAccountant: {PermReadSelf, PermIssueCredentials},
		MemberAgent:      {PermReadSelf},
	}
	for role, granted := range want {
		allowed := map[Permission]bool{}
		for _, p := range granted {
			allowed[p] = true
		}
		for _, p := range AllPermissions() {
			err := Authorize(role, Org("o1"), p)
			if allowed[p] != (err == nil) {
				t.Errorf("%s/%s: allowed=%v, err=%v", role, p, allowed[p], err)
			}
		}
	}
}

func TestAuthorize_EveryRoleHasPermissions(t *testing.T) {
	for role, set := range globalTable {
		if set == 0 {
			t.Errorf("global role %s maps to no permissions", role)
		}
	}
	for role, set := range membershipTable {
		if set == 0 {
			t.Errorf("membership role %s maps to no permissions", role)
		}
	}
}

func TestAuthorize_Deterministic(t *testing.T) {
	roles := []Role{GlobalAdmin, GlobalViewer, MemberDirector, MemberAgent}
	scopes := []Scope{Global(), Org("o1")}
	for _, r := range roles {
		for _, s := range scopes {
			for _, p := range AllPermissions() {
				first := Authorize(r, s, p) == nil
				for i := 0; i < 5; i++ {
					if (Authorize(r, s, p) == nil) != first {
						t.Fatalf("%s/%s/%s not deterministic", r, s, p)
					}
				}
			}
		}
	}
}

func TestAuthorize_FailsClosed(t *testing.T) {
	cases := []struct {
		name  string
		role  Role
		scope Scope
		perm  Permission
	}{
		{"unknown global role", GlobalRole("superuser"), Global(), PermReadSelf},
		{"unknown membership role", MembershipRole("owner"), Org("o1"), PermReadSelf},
		{"nil role", nil, Global(), PermReadSelf},
		{"global role at org scope", GlobalAdmin, Org("o1"), PermReadSelf},
		{"membership role at global scope", MemberDirector, Global(), PermReadSelf},
		{"zero permission", GlobalAdmin, Global(), Permission(0)},
		{"out of range permission", GlobalAdmin, Global(), Permission(42)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Authorize(tc.role, tc.scope, tc.perm); !errors.Is(err, apperr.ErrForbidden) {
				t.Errorf("want ErrForbidden, got %v", err)
			}
		})
	}
}

func TestParseRoles(t *testing.T) {
	if r, err := ParseGlobalRole("accountant"); err != nil || r != GlobalAccountant {
		t.Errorf("ParseGlobalRole(accountant) = %q, %v", r, err)
	}
	if _, err := ParseGlobalRole("agent"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ParseGlobalRole(agent): want ErrUnknownRole, got %v", err)
	}
	if r, err := ParseMembershipRole("agent"); err != nil || r != MemberAgent {
		t.Errorf("ParseMembershipRole(agent) = %q, %v", r, err)
	}
	if _, err := ParseMembershipRole("viewer"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ParseMembershipRole(viewer): want ErrUnknownRole, got %v", err)
	}
}

func TestParsePermission(t *testing.T) {
	for _, p := range AllPermissions() {
		got, err := ParsePermission(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePermission(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePermission("delete-everything"); err == nil {
		t.Error("ParsePermission(unknown): want error")
	}
}
