package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	identityhandler "identity-service/backend/internal/identity/handler"
	orgdomain "identity-service/backend/internal/organization/domain"
	orghandler "identity-service/backend/internal/organization/handler"
	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/user/domain"
)

// UserService is the user administration and lookup surface.
type UserService interface {
	Block(ctx context.Context, userID, reason string) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	Orgs(ctx context.Context, userID string) ([]*orgdomain.Org, error)
	OrgUsers(ctx context.Context, orgID string) ([]*domain.User, error)
}

// UserHandler serves the admin block route and the internal user lookups.
type UserHandler struct {
	users UserService
}

// NewUserHandler returns a UserHandler over users.
func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// Block handles POST /admin/users/{userID}/block. Every refresh family of the user is revoked
// in the same transaction.
func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := httpx.Decode(w, r, &req); err != nil {
			httpx.Error(w, r, err)
			return
		}
	}
	if err := h.users.Block(r.Context(), chi.URLParam(r, "userID"), req.Reason); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /internal/users/{userID}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, identityhandler.NewUserView(u))
}

// Orgs handles GET /internal/users/{userID}/orgs: the orgs with an approved membership.
func (h *UserHandler) Orgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.users.Orgs(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orghandler.NewOrgViews(orgs))
}

// OrgUsers handles GET /internal/orgs/{orgID}/users: the approved members of an org.
func (h *UserHandler) OrgUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.OrgUsers(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]identityhandler.UserView, 0, len(users))
	for _, u := range users {
		out = append(out, identityhandler.NewUserView(u))
	}
	httpx.JSON(w, http.StatusOK, out)
}
