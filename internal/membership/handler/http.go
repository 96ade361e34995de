package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"identity-service/backend/internal/membership/domain"
	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/server/interceptors"
)

// Manager is the membership state machine behind the HTTP routes.
type Manager interface {
	Enroll(ctx context.Context, actorID, orgID, targetUserID string, role rbac.MembershipRole) (*domain.Membership, error)
	Invite(ctx context.Context, actorID, orgID, inn string, role rbac.MembershipRole) (*domain.Membership, error)
	Approve(ctx context.Context, actorID, orgID, userID string) error
	Reject(ctx context.Context, actorID, orgID, userID string) error
	Remove(ctx context.Context, actorID, orgID, userID string) error
	List(ctx context.Context, actorID, orgID string) ([]*domain.Membership, error)
}

// MembershipHandler serves /orgs/{orgID}/members.
type MembershipHandler struct {
	members Manager
}

// NewMembershipHandler returns a MembershipHandler over members.
func NewMembershipHandler(members Manager) *MembershipHandler {
	return &MembershipHandler{members: members}
}

// MembershipView is the JSON shape of a membership.
type MembershipView struct {
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newMembershipView(m *domain.Membership) MembershipView {
	return MembershipView{
		OrgID:     m.OrgID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// enrollRequest enrolls the caller when both user_id and inn are empty, invites by tax id
// when inn is set, and enrolls user_id otherwise.
type enrollRequest struct {
	UserID string `json:"user_id"`
	INN    string `json:"inn"`
	Role   string `json:"role"`
}

// List handles GET /orgs/{orgID}/members.
func (h *MembershipHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, _ := interceptors.GetUserID(r.Context())
	ms, err := h.members.List(r.Context(), actorID, chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]MembershipView, 0, len(ms))
	for _, m := range ms {
		out = append(out, newMembershipView(m))
	}
	httpx.JSON(w, http.StatusOK, out)
}

// Enroll handles POST /orgs/{orgID}/members.
func (h *MembershipHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	ctx := r.Context()
	actorID, _ := interceptors.GetUserID(ctx)
	orgID := chi.URLParam(r, "orgID")
	role := rbac.MembershipRole(req.Role)

	var (
		m   *domain.Membership
		err error
	)
	switch {
	case req.INN != "":
		m, err = h.members.Invite(ctx, actorID, orgID, req.INN, role)
	case req.UserID != "":
		m, err = h.members.Enroll(ctx, actorID, orgID, req.UserID, role)
	default:
		m, err = h.members.Enroll(ctx, actorID, orgID, actorID, role)
	}
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newMembershipView(m))
}

// Approve handles POST /orgs/{orgID}/members/{userID}/approve.
func (h *MembershipHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.members.Approve)
}

// Reject handles POST /orgs/{orgID}/members/{userID}/reject.
func (h *MembershipHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.members.Reject)
}

// Remove handles DELETE /orgs/{orgID}/members/{userID}.
func (h *MembershipHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.members.Remove)
}

func (h *MembershipHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, orgID, userID string) error) {
	actorID, _ := interceptors.GetUserID(r.Context())
	if err := op(r.Context(), actorID, chi.URLParam(r, "orgID"), chi.URLParam(r, "userID")); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
