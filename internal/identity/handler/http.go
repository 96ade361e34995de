package handler

import (
	"context"
	"net/http"
	"time"

	"identity-service/backend/internal/platform/httpx"
	"identity-service/backend/internal/security"
	"identity-service/backend/internal/server/interceptors"
	"identity-service/backend/internal/token"
	userdomain "identity-service/backend/internal/user/domain"
)

// Authenticator is the account lifecycle the auth routes expose.
type Authenticator interface {
	Register(ctx context.Context, reg userdomain.Registration) (*userdomain.User, error)
	ConfirmEmail(ctx context.Context, email, code string) error
	Login(ctx context.Context, email, password, orgID string) (*token.Pair, error)
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID string) (*userdomain.User, error)
}

// KeySource publishes the verification keys.
type KeySource interface {
	JWKS() security.JWKS
}

// AuthHandler serves /auth and the JWKS document.
type AuthHandler struct {
	auth Authenticator
	keys KeySource
}

// NewAuthHandler returns an AuthHandler over auth and keys.
func NewAuthHandler(auth Authenticator, keys KeySource) *AuthHandler {
	return &AuthHandler{auth: auth, keys: keys}
}

// UserView is the public representation of a user. Secrets never leave the service.
type UserView struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	INN       string    `json:"inn"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Status    string    `json:"status"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserView strips credentials from u.
func NewUserView(u *userdomain.User) UserView {
	return UserView{
		ID:        u.ID,
		FullName:  u.FullName,
		INN:       u.INN,
		Email:     u.Email,
		Phone:     u.Phone,
		Status:    string(u.Status),
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	UserID           string    `json:"user_id"`
	OrgID            string    `json:"org_id,omitempty"`
}

func newTokenResponse(p *token.Pair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		UserID:           p.UserID,
		OrgID:            p.OrgID,
	}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req userdomain.Registration
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	u, err := h.auth.Register(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewUserView(u))
}

// ConfirmEmail handles POST /auth/confirm-email.
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.auth.ConfirmEmail(r.Context(), req.Email, req.Code); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(userdomain.StatusVerified)})
}

// Login handles POST /auth/login. org_id optionally scopes the session to one organization.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		OrgID    string `json:"org_id"`
	}
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Email, req.Password, req.OrgID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTokenResponse(pair))
}

// Logout handles POST /auth/logout by revoking the refresh token's family.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.GetUserID(r.Context())
	u, err := h.auth.Me(r.Context(), userID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewUserView(u))
}

// JWKS serves the public verification keys. Verifiers may cache the document for an hour.
func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	httpx.JSON(w, http.StatusOK, h.keys.JWKS())
}
