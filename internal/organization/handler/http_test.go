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
	membersvc "identity-service/backend/internal/membership/service"
	"identity-service/backend/internal/organization/service"
	"identity-service/backend/internal/platform/memstore"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/server/interceptors"
	userdomain "identity-service/backend/internal/user/domain"
)

// asCaller stands in for bearer authentication: X-User and X-Role become the request identity.
func asCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := interceptors.WithIdentity(r.Context(), r.Header.Get("X-User"), r.Header.Get("X-Role"), "")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memstore.New()
	for i, id := range []string{"alice", "bob"} {
		if err := store.Users().Create(context.Background(), &userdomain.User{
			ID: id, Email: id + "@example.ru", INN: []string{"7707083893", "500100732259"}[i],
			Status: userdomain.StatusVerified, Role: rbac.GlobalViewer,
		}); err != nil {
			t.Fatal(err)
		}
	}
	recorder := audit.NewRecorder(store.Audit(), nil, nil)
	members := membersvc.NewService(store, store.Memberships(), store.Users(), recorder)
	h := NewOrgHandler(service.NewService(store, store.Orgs(), store.Memberships(), members, recorder, nil))

	r := chi.NewRouter()
	r.Get("/internal/orgs/{orgID}", h.Lookup)
	r.Group(func(r chi.Router) {
		r.Use(asCaller)
		r.Get("/orgs/my", h.My)
		r.Post("/orgs", h.Create)
		r.Get("/orgs/{orgID}", h.Get)
		r.Patch("/orgs/{orgID}", h.Update)
	})
	return r
}

func call(h http.Handler, method, path, body, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User", user)
		req.Header.Set("X-Role", string(rbac.GlobalViewer))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOrgRoutes(t *testing.T) {
	h := newTestRouter(t)

	rec := call(h, http.MethodPost, "/orgs", `{"name":"Acme","inn":"7707083893","ogrn":"1027700132195"}`, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var org OrgView
	if err := json.NewDecoder(rec.Body).Decode(&org); err != nil {
		t.Fatal(err)
	}
	if org.ID == "" || org.Name != "Acme" || org.OGRN != "1027700132195" {
		t.Fatalf("created org = %+v", org)
	}

	rec = call(h, http.MethodGet, "/orgs/my", "", "alice")
	var mine []OrgView
	_ = json.NewDecoder(rec.Body).Decode(&mine)
	if rec.Code != http.StatusOK || len(mine) != 1 || mine[0].ID != org.ID {
		t.Errorf("my: %d %+v", rec.Code, mine)
	}

	if rec := call(h, http.MethodGet, "/orgs/"+org.ID, "", "bob"); rec.Code != http.StatusForbidden {
		t.Errorf("outsider get: %d", rec.Code)
	}

	rec = call(h, http.MethodPatch, "/orgs/"+org.ID, `{"name":"Acme Holding"}`, "alice")
	var updated OrgView
	_ = json.NewDecoder(rec.Body).Decode(&updated)
	if rec.Code != http.StatusOK || updated.Name != "Acme Holding" {
		t.Errorf("patch: %d %+v", rec.Code, updated)
	}
	if rec := call(h, http.MethodPatch, "/orgs/"+org.ID, `{"name":"x"}`, "bob"); rec.Code != http.StatusForbidden {
		t.Errorf("outsider patch: %d", rec.Code)
	}
	if rec := call(h, http.MethodPatch, "/orgs/"+org.ID, `{"inn":"1"}`, "alice"); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("patch immutable field: %d", rec.Code)
	}

	if rec := call(h, http.MethodGet, "/internal/orgs/"+org.ID, "", ""); rec.Code != http.StatusOK {
		t.Errorf("internal lookup: %d", rec.Code)
	}
	if rec := call(h, http.MethodGet, "/internal/orgs/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("internal lookup missing: %d", rec.Code)
	}
}

func TestCreate_Invalid(t *testing.T) {
	h := newTestRouter(t)
	rec := call(h, http.MethodPost, "/orgs", `{"name":"","inn":"7707083893"}`, "alice")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("create without name: %d %s", rec.Code, rec.Body)
	}
}
