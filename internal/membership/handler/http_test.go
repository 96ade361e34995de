package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"identity-service/backend/internal/audit"
	"identity-service/backend/internal/membership/domain"
	"identity-service/backend/internal/membership/service"
	orgdomain "identity-service/backend/internal/organization/domain"
	"identity-service/backend/internal/platform/memstore"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/server/interceptors"
	userdomain "identity-service/backend/internal/user/domain"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	for i, id := range []string{"dir", "ivan", "olga", "eve"} {
		if err := store.Users().Create(ctx, &userdomain.User{
			ID: id, Email: id + "@example.ru", INN: []string{"7707083893", "500100732259", "7736050003", "7702070139"}[i],
			Status: userdomain.StatusVerified, Role: rbac.GlobalViewer,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Orgs().Create(ctx, &orgdomain.Org{ID: "o1", Name: "Acme", INN: "7707083893"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Memberships().Create(ctx, &domain.Membership{
		OrgID: "o1", UserID: "dir", Role: rbac.MemberDirector, Status: domain.StatusApproved,
	}); err != nil {
		t.Fatal(err)
	}
	recorder := audit.NewRecorder(store.Audit(), nil, nil)
	h := NewMembershipHandler(service.NewService(store, store.Memberships(), store.Users(), recorder))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := interceptors.WithIdentity(r.Context(), r.Header.Get("X-User"), string(rbac.GlobalViewer), "")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Get("/orgs/{orgID}/members", h.List)
	r.Post("/orgs/{orgID}/members", h.Enroll)
	r.Post("/orgs/{orgID}/members/{userID}/approve", h.Approve)
	r.Post("/orgs/{orgID}/members/{userID}/reject", h.Reject)
	r.Delete("/orgs/{orgID}/members/{userID}", h.Remove)
	return r
}

func call(h http.Handler, method, path, body, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User", user)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMembershipLifecycle(t *testing.T) {
	h := newTestRouter(t)

	rec := call(h, http.MethodPost, "/orgs/o1/members", `{}`, "ivan")
	if rec.Code != http.StatusCreated {
		t.Fatalf("self enroll: %d %s", rec.Code, rec.Body)
	}
	var m MembershipView
	_ = json.NewDecoder(rec.Body).Decode(&m)
	if m.UserID != "ivan" || m.Status != "pending" || m.Role != "agent" {
		t.Errorf("enrolled = %+v", m)
	}

	if rec := call(h, http.MethodPost, "/orgs/o1/members/ivan/approve", "", "ivan"); rec.Code != http.StatusForbidden {
		t.Errorf("self approve: %d", rec.Code)
	}
	if rec := call(h, http.MethodPost, "/orgs/o1/members/ivan/approve", "", "dir"); rec.Code != http.StatusNoContent {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body)
	}
	if rec := call(h, http.MethodPost, "/orgs/o1/members/ivan/approve", "", "dir"); rec.Code != http.StatusConflict {
		t.Errorf("second approve: %d", rec.Code)
	}

	rec = call(h, http.MethodGet, "/orgs/o1/members", "", "ivan")
	var list []MembershipView
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if rec.Code != http.StatusOK || len(list) != 2 {
		t.Errorf("list: %d %+v", rec.Code, list)
	}
	if rec := call(h, http.MethodGet, "/orgs/o1/members", "", "eve"); rec.Code != http.StatusForbidden {
		t.Errorf("outsider list: %d", rec.Code)
	}

	if rec := call(h, http.MethodDelete, "/orgs/o1/members/ivan", "", "dir"); rec.Code != http.StatusNoContent {
		t.Errorf("remove: %d %s", rec.Code, rec.Body)
	}
	if rec := call(h, http.MethodDelete, "/orgs/o1/members/dir", "", "dir"); rec.Code != http.StatusConflict {
		t.Errorf("last director leaving: %d", rec.Code)
	}
}

func TestInviteAndReject(t *testing.T) {
	h := newTestRouter(t)

	if rec := call(h, http.MethodPost, "/orgs/o1/members", `{"inn":"7736050003","role":"accountant"}`, "ivan"); rec.Code != http.StatusForbidden {
		t.Errorf("invite by non-member: %d", rec.Code)
	}
	rec := call(h, http.MethodPost, "/orgs/o1/members", `{"inn":"7736050003","role":"accountant"}`, "dir")
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: %d %s", rec.Code, rec.Body)
	}
	if rec := call(h, http.MethodPost, "/orgs/o1/members", `{"inn":"7702070139","role":"owner"}`, "dir"); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown role: %d", rec.Code)
	}
	if rec := call(h, http.MethodPost, "/orgs/o1/members", `{"inn":"7710140679"}`, "dir"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown inn: %d", rec.Code)
	}
	if rec := call(h, http.MethodPost, "/orgs/o1/members/olga/reject", "", "dir"); rec.Code != http.StatusNoContent {
		t.Errorf("reject: %d %s", rec.Code, rec.Body)
	}
	if rec := call(h, http.MethodPost, "/orgs/o1/members/olga/reject", "", "dir"); rec.Code != http.StatusNotFound {
		t.Errorf("second reject: %d", rec.Code)
	}
}
