package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"identity-service/backend/internal/platform/apperr"
)

// TokenType distinguishes access from refresh tokens; each is rejected where the other is expected.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims holds JWT claims for both token types.
// Access tokens carry Role, OrgID and OrgIDs; refresh tokens carry FamilyID and Generation.
type Claims struct {
	jwt.RegisteredClaims
	Type       TokenType `json:"typ"`
	Role       string    `json:"role,omitempty"`
	OrgID      string    `json:"org,omitempty"`
	OrgIDs     []string  `json:"orgs,omitempty"`
	FamilyID   string    `json:"fam,omitempty"`
	Generation int64     `json:"gen,omitempty"`
	// KeyID and Algorithm are copied from the verified header.
	KeyID     string `json:"-"`
	Algorithm string `json:"-"`
}

// AccessInput describes the subject of a new access token.
type AccessInput struct {
	UserID string
	Role   string
	OrgID  string
	OrgIDs []string
}

// TokenProvider issues and validates JWT access and refresh tokens with the key set's active key.
// HS256, RS256 and ES256 keys are interchangeable: callers never see which mode is active.
type TokenProvider struct {
	keys       *KeySet
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with keys.Active().
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(keys *KeySet, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		keys:       keys,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SetClock overrides the time source for both the provider and its key set. For tests.
func (p *TokenProvider) SetClock(now func() time.Time) {
	p.now = now
	p.keys.SetClock(now)
}

// Keys returns the key set backing this provider.
func (p *TokenProvider) Keys() *KeySet { return p.keys }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT and returns it with its claims.
func (p *TokenProvider) IssueAccess(in AccessInput) (string, *Claims, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", nil, err
	}
	now := p.now().UTC()
	claims := &Claims{
		RegisteredClaims: p.registered(jti, in.UserID, now, p.accessTTL),
		Type:             TokenAccess,
		Role:             in.Role,
		OrgID:            in.OrgID,
		OrgIDs:           in.OrgIDs,
	}
	token, err := p.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// IssueRefresh issues a refresh JWT bound to a rotation family at the given generation.
func (p *TokenProvider) IssueRefresh(userID, orgID, familyID string, generation int64, expiresAt time.Time) (string, *Claims, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", nil, err
	}
	now := p.now().UTC()
	rc := p.registered(jti, userID, now, p.refreshTTL)
	if !expiresAt.IsZero() {
		rc.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	claims := &Claims{
		RegisteredClaims: rc,
		Type:             TokenRefresh,
		OrgID:            orgID,
		FamilyID:         familyID,
		Generation:       generation,
	}
	token, err := p.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (p *TokenProvider) registered(jti, subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (p *TokenProvider) sign(claims *Claims) (string, error) {
	key := p.keys.Active()
	var (
		method jwt.SigningMethod
		secret any
	)
	switch key.Alg {
	case AlgHS256:
		method, secret = jwt.SigningMethodHS256, key.Secret
	case AlgRS256:
		method, secret = jwt.SigningMethodRS256, key.Private
	case AlgES256:
		method, secret = jwt.SigningMethodES256, key.Private
	default:
		return "", ErrInvalidKey
	}
	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = key.ID
	return t.SignedString(secret)
}

// ValidateAccess parses and validates an access token (kid, signature, exp, iss, aud, typ).
func (p *TokenProvider) ValidateAccess(token string) (*Claims, error) {
	return p.parse(token, TokenAccess)
}

// ValidateRefresh parses and validates a refresh token. It does not consult the rotation record.
func (p *TokenProvider) ValidateRefresh(token string) (*Claims, error) {
	c, err := p.parse(token, TokenRefresh)
	if err != nil {
		return nil, err
	}
	if c.FamilyID == "" {
		return nil, fmt.Errorf("refresh token without family: %w", apperr.ErrMalformed)
	}
	return c, nil
}

func (p *TokenProvider) parse(tokenString string, want TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token: %w", apperr.ErrMalformed)
	}
	claims := &Claims{}
	var key *Key
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("missing kid: %w", apperr.ErrInvalidSignature)
		}
		k, err := p.keys.Lookup(kid)
		if err != nil {
			return nil, fmt.Errorf("kid %q: %v: %w", kid, err, apperr.ErrInvalidSignature)
		}
		if t.Method.Alg() != k.Alg {
			return nil, fmt.Errorf("alg %s does not match kid %q: %w", t.Method.Alg(), kid, apperr.ErrInvalidSignature)
		}
		key = k
		if k.Symmetric() {
			return k.Secret, nil
		}
		return k.Public, nil
	},
		jwt.WithValidMethods([]string{AlgHS256, AlgRS256, AlgES256}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, apperr.ErrMalformed
	}
	if claims.Type != want {
		return nil, fmt.Errorf("expected %s token, got %q: %w", want, claims.Type, apperr.ErrMalformed)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token without subject: %w", apperr.ErrMalformed)
	}
	claims.KeyID = key.ID
	claims.Algorithm = key.Alg
	return claims, nil
}

// classify maps jwt parse failures onto the error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, apperr.ErrInvalidSignature):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%v: %w", err, apperr.ErrMalformed)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%v: %w", err, apperr.ErrInvalidSignature)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%v: %w", err, apperr.ErrExpired)
	default:
		return fmt.Errorf("%v: %w", err, apperr.ErrMalformed)
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
