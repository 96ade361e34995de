package interceptors

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/security"
)

// InternalTokenHeader carries the shared secret of service-to-service calls.
const InternalTokenHeader = "X-Internal-Token"

// Verifier validates an access token and returns its claims.
type Verifier interface {
	Verify(accessToken string) (*security.Claims, error)
}

// Authenticate requires a valid Bearer access token and stores the caller's user id, global role
// and org scope in the request context. Missing or rejected tokens get 401.
func Authenticate(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := httpx.BearerToken(r)
			if raw == "" {
				httpx.Error(w, r, fmt.Errorf("missing bearer token: %w", apperr.ErrMalformed))
				return
			}
			claims, err := v.Verify(raw)
			if err != nil {
				httpx.Error(w, r, err)
				return
			}
			ctx := WithIdentity(r.Context(), claims.Subject, claims.Role, claims.OrgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireInternalToken admits requests whose X-Internal-Token equals token. An empty token
// closes the route entirely.
func RequireInternalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpx.Error(w, r, fmt.Errorf("internal token rejected: %w", apperr.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
