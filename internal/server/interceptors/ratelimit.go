package interceptors

import (
	"log"
	"net/http"

	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/platform/ratelimit"
)

// RateLimit rejects clients over their budget with 429. Limiter failures are logged and the
// request is let through.
func RateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), httpx.ClientIP(r))
			if err != nil {
				log.Printf("ratelimit: %v", err)
			} else if !ok {
				w.Header().Set("Retry-After", "60")
				httpx.JSON(w, http.StatusTooManyRequests, map[string]any{
					"error": map[string]string{"code": "RATE_LIMITED", "message": "too many requests"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
