package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	orgdomain "identity-service/backend/internal/organization/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/user/domain"
)

type stubUsers struct {
	blocked map[string]string
	users   map[string]*domain.User
}

func (s *stubUsers) Block(_ context.Context, userID, reason string) error {
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	if _, ok := s.blocked[userID]; ok {
		return fmt.Errorf("already blocked: %w", apperr.ErrInvalidState)
	}
	s.blocked[userID] = reason
	return nil
}

func (s *stubUsers) Get(_ context.Context, userID string) (*domain.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return u, nil
}

func (s *stubUsers) Orgs(_ context.Context, userID string) ([]*orgdomain.Org, error) {
	return []*orgdomain.Org{{ID: "o1", Name: "Acme", INN: "7707083893"}}, nil
}

func (s *stubUsers) OrgUsers(_ context.Context, orgID string) ([]*domain.User, error) {
	return []*domain.User{s.users["ivan"]}, nil
}

func newRouter() (*stubUsers, http.Handler) {
	users := &stubUsers{
		blocked: map[string]string{},
		users: map[string]*domain.User{
			"ivan": {ID: "ivan", Email: "ivan@example.ru", PasswordHash: "$2a$04$secret", Status: domain.StatusVerified},
		},
	}
	h := NewUserHandler(users)
	r := chi.NewRouter()
	r.Post("/admin/users/{userID}/block", h.Block)
	r.Get("/internal/users/{userID}", h.Get)
	r.Get("/internal/users/{userID}/orgs", h.Orgs)
	r.Get("/internal/orgs/{orgID}/users", h.OrgUsers)
	return users, r
}

func TestBlock(t *testing.T) {
	users, h := newRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin/users/ivan/block", strings.NewReader(`{"reason":"fraud"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || users.blocked["ivan"] != "fraud" {
		t.Fatalf("block: %d %v", rec.Code, users.blocked)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/users/ivan/block", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("second block without body: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/users/ghost/block", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("block missing user: %d", rec.Code)
	}
}

func TestInternalLookups(t *testing.T) {
	_, h := newRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/users/ivan", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("password hash leaked")
	}
	var u map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&u)
	if u["id"] != "ivan" || u["status"] != "verified" {
		t.Errorf("user = %v", u)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/users/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get missing: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/users/ivan/orgs", nil))
	var orgs []map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&orgs)
	if rec.Code != http.StatusOK || len(orgs) != 1 || orgs[0]["id"] != "o1" {
		t.Errorf("orgs: %d %v", rec.Code, orgs)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/orgs/o1/users", nil))
	var members []map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&members)
	if rec.Code != http.StatusOK || len(members) != 1 || members[0]["email"] != "ivan@example.ru" {
		t.Errorf("org users: %d %v", rec.Code, members)
	}
}
