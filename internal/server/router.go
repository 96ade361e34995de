// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	audithandler "identity-service/backend/internal/audit/handler"
	healthhandler "identity-service/backend/internal/health/handler"
	identityhandler "identity-service/backend/internal/identity/handler"
	membershiphandler "identity-service/backend/internal/membership/handler"
	organizationhandler "identity-service/backend/internal/organization/handler"
	"identity-service/backend/internal/platform/ratelimit"
	_ "identity-service/backend/internal/server/docs"
	"identity-service/backend/internal/server/interceptors"
	"identity-service/backend/internal/telemetry"
	userhandler "identity-service/backend/internal/user/handler"
)

// APIPrefix is the mount point of the JSON API.
const APIPrefix = "/api/v1"

// Deps holds everything the router mounts. Nil limiters disable rate limiting; nil Metrics
// disables /metrics and request instrumentation.
type Deps struct {
	Auth        *identityhandler.AuthHandler
	Orgs        *organizationhandler.OrgHandler
	Members     *membershiphandler.MembershipHandler
	Audit       *audithandler.AuditHandler
	Users       *userhandler.UserHandler
	Health      *healthhandler.Checker
	Verifier    interceptors.Verifier
	AuthLimiter ratelimit.Limiter
	APILimiter  ratelimit.Limiter
	Metrics     *telemetry.Metrics
	CORSOrigins []string
	// InternalToken guards /internal; empty rejects every internal call.
	InternalToken string
}

// NewRouter returns the HTTP handler for the whole service.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(interceptors.Metrics(d.Metrics))
	r.Use(interceptors.CORS(d.CORSOrigins))

	r.Get("/.well-known/jwks.json", d.Auth.JWKS)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route(APIPrefix, func(r chi.Router) {
		r.Method(http.MethodGet, "/health", d.Health)
		r.Get("/auth/jwks", d.Auth.JWKS)

		r.Group(func(r chi.Router) {
			r.Use(interceptors.RateLimit(d.AuthLimiter))
			r.Post("/auth/register", d.Auth.Register)
			r.Post("/auth/confirm-email", d.Auth.ConfirmEmail)
			r.Post("/auth/login", d.Auth.Login)
			r.Post("/auth/refresh", d.Auth.Refresh)
		})
		r.With(interceptors.RateLimit(d.APILimiter)).Post("/auth/logout", d.Auth.Logout)

		r.Group(func(r chi.Router) {
			r.Use(interceptors.RateLimit(d.APILimiter))
			r.Use(interceptors.Authenticate(d.Verifier))

			r.Get("/auth/me", d.Auth.Me)

			r.Get("/orgs/my", d.Orgs.My)
			r.Post("/orgs", d.Orgs.Create)
			r.Get("/orgs/{orgID}", d.Orgs.Get)
			r.Patch("/orgs/{orgID}", d.Orgs.Update)

			r.Get("/orgs/{orgID}/members", d.Members.List)
			r.Post("/orgs/{orgID}/members", d.Members.Enroll)
			r.Post("/orgs/{orgID}/members/{userID}/approve", d.Members.Approve)
			r.Post("/orgs/{orgID}/members/{userID}/reject", d.Members.Reject)
			r.Delete("/orgs/{orgID}/members/{userID}", d.Members.Remove)

			r.Get("/audit", d.Audit.List)

			r.Post("/admin/users/{userID}/block", d.Users.Block)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(interceptors.RequireInternalToken(d.InternalToken))
			r.Get("/users/{userID}", d.Users.Get)
			r.Get("/users/{userID}/orgs", d.Users.Orgs)
			r.Get("/orgs/{orgID}", d.Orgs.Lookup)
			r.Get("/orgs/{orgID}/users", d.Users.OrgUsers)
		})
	})
	return r
}
