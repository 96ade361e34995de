package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"identity-service/backend/internal/audit/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/server/interceptors"
)

// Lister returns the audit entries a caller may see.
type Lister interface {
	ListFor(ctx context.Context, roles rbac.OrgRoleResolver, actorID, globalRole string, f domain.Filter) ([]*domain.Entry, error)
}

// AuditHandler serves GET /audit.
type AuditHandler struct {
	entries Lister
	roles   rbac.OrgRoleResolver
}

// NewAuditHandler returns an AuditHandler. roles resolves org-scoped read access.
func NewAuditHandler(entries Lister, roles rbac.OrgRoleResolver) *AuditHandler {
	return &AuditHandler{entries: entries, roles: roles}
}

// EntryView is the JSON shape of an audit entry.
type EntryView struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	OrgID      string         `json:"org_id,omitempty"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

type listResponse struct {
	Entries []EntryView `json:"entries"`
	// NextBeforeID pages further back when non-zero.
	NextBeforeID int64 `json:"next_before_id,omitempty"`
}

// List handles GET /audit?org_id=&entity_id=&before_id=&limit=. Entries come newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.Filter{OrgID: q.Get("org_id"), EntityID: q.Get("entity_id")}
	var err error
	if f.BeforeID, err = queryInt(q.Get("before_id")); err != nil {
		httpx.Error(w, r, err)
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	f.Limit = int(limit)

	ctx := r.Context()
	actorID, _ := interceptors.GetUserID(ctx)
	role, _ := interceptors.GetRole(ctx)
	entries, err := h.entries.ListFor(ctx, h.roles, actorID, role, f)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	resp := listResponse{Entries: make([]EntryView, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryView{
			ID:         e.ID,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID.String,
			OrgID:      e.OrgID.String,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}
	if n := len(entries); n > 0 && f.Limit > 0 && n == f.Limit {
		resp.NextBeforeID = entries[n-1].ID
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func queryInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("query value %q must be a non-negative integer: %w", s, apperr.ErrValidation)
	}
	return n, nil
}
