package interceptors

import "context"

type contextKey struct{ name string }

var (
	userIDKey = contextKey{"user_id"}
	roleKey   = contextKey{"role"}
	orgIDKey  = contextKey{"org_id"}
)

// WithIdentity returns a context carrying the verified caller: user id, global role and optional org scope.
// Handlers and the rbac helpers read them via GetUserID, GetRole, GetOrgID.
func WithIdentity(ctx context.Context, userID, role, orgID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleKey, role)
	ctx = context.WithValue(ctx, orgIDKey, orgID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// GetRole returns the caller's global role string from the access token.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok && v != ""
}

// GetOrgID returns the org scope of the access token, if any.
func GetOrgID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(orgIDKey).(string)
	return v, ok && v != ""
}
