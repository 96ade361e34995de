package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"identity-service/backend/internal/organization/domain"
	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/server/interceptors"
)

// OrgService is the organization surface behind the HTTP routes.
type OrgService interface {
	Create(ctx context.Context, actorID string, org domain.Org) (*domain.Org, error)
	Get(ctx context.Context, actorID, orgID string) (*domain.Org, error)
	Update(ctx context.Context, actorID, orgID string, patch domain.Patch) (*domain.Org, error)
	My(ctx context.Context, userID string) ([]*domain.Org, error)
	Lookup(ctx context.Context, orgID string) (*domain.Org, error)
}

// OrgHandler serves /orgs and the internal org lookup.
type OrgHandler struct {
	orgs OrgService
}

// NewOrgHandler returns an OrgHandler over orgs.
func NewOrgHandler(orgs OrgService) *OrgHandler {
	return &OrgHandler{orgs: orgs}
}

// OrgView is the JSON shape of an organization.
type OrgView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	INN       string    `json:"inn"`
	OGRN      string    `json:"ogrn,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrgView converts o to its JSON shape.
func NewOrgView(o *domain.Org) OrgView {
	return OrgView{
		ID:        o.ID,
		Name:      o.Name,
		INN:       o.INN,
		OGRN:      o.OGRN.String,
		Email:     o.Email,
		Phone:     o.Phone,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// NewOrgViews converts a list.
func NewOrgViews(orgs []*domain.Org) []OrgView {
	out := make([]OrgView, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, NewOrgView(o))
	}
	return out
}

type createRequest struct {
	Name  string `json:"name"`
	INN   string `json:"inn"`
	OGRN  string `json:"ogrn"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// My handles GET /orgs/my: every org the caller belongs to, pending memberships included.
func (h *OrgHandler) My(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.GetUserID(r.Context())
	orgs, err := h.orgs.My(r.Context(), userID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrgViews(orgs))
}

// Create handles POST /orgs. The caller becomes the approved director.
func (h *OrgHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	userID, _ := interceptors.GetUserID(r.Context())
	org, err := h.orgs.Create(r.Context(), userID, domain.Org{
		Name:  req.Name,
		INN:   req.INN,
		OGRN:  sql.NullString{String: req.OGRN, Valid: req.OGRN != ""},
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewOrgView(org))
}

// Get handles GET /orgs/{orgID}.
func (h *OrgHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.GetUserID(r.Context())
	org, err := h.orgs.Get(r.Context(), userID, chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrgView(org))
}

// Update handles PATCH /orgs/{orgID}. Absent fields are left unchanged.
func (h *OrgHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.Patch
	if err := httpx.Decode(w, r, &patch); err != nil {
		httpx.Error(w, r, err)
		return
	}
	userID, _ := interceptors.GetUserID(r.Context())
	org, err := h.orgs.Update(r.Context(), userID, chi.URLParam(r, "orgID"), patch)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrgView(org))
}

// Lookup handles GET /internal/orgs/{orgID}.
func (h *OrgHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgs.Lookup(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrgView(org))
}
