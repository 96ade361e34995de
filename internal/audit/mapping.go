package audit

import "strings"

// Actions recorded in the audit log.
const (
	ActionUserRegister  = "user.register"
	ActionUserVerify    = "user.verify"
	ActionUserBadCode   = "user.verify_failed"
	ActionUserLogin     = "user.login"
	ActionUserLogout    = "user.logout"
	ActionUserBlocked   = "user.blocked"
	ActionOrgCreate     = "org.create"
	ActionOrgUpdate     = "org.update"
	ActionOrgLinkUser   = "org.link_user"
	ActionOrgApprove    = "org.approve_user"
	ActionOrgReject     = "org.reject_user"
	ActionOrgUnlinkUser = "org.unlink_user"
	ActionTokenIssue    = "token.issue"
	ActionTokenRefresh  = "token.refresh"
	ActionTokenReuse    = "token.reuse_detected"
	ActionTokenRevoke   = "token.revoke"
)

// Entity types.
const (
	EntityUser         = "user"
	EntityOrganization = "organization"
	EntitySession      = "session"
)

var knownActions = map[string]bool{
	ActionUserRegister:  true,
	ActionUserVerify:    true,
	ActionUserBadCode:   true,
	ActionUserLogin:     true,
	ActionUserLogout:    true,
	ActionUserBlocked:   true,
	ActionOrgCreate:     true,
	ActionOrgUpdate:     true,
	ActionOrgLinkUser:   true,
	ActionOrgApprove:    true,
	ActionOrgReject:     true,
	ActionOrgUnlinkUser: true,
	ActionTokenIssue:    true,
	ActionTokenRefresh:  true,
	ActionTokenReuse:    true,
	ActionTokenRevoke:   true,
}

// KnownAction reports whether action is one of the recorded actions.
func KnownAction(action string) bool { return knownActions[action] }

// EntityTypeFor derives the entity type from the action prefix (user., org., token.).
func EntityTypeFor(action string) string {
	prefix, _, ok := strings.Cut(action, ".")
	if !ok {
		return ""
	}
	switch prefix {
	case "user":
		return EntityUser
	case "org":
		return EntityOrganization
	case "token":
		return EntitySession
	default:
		return ""
	}
}
