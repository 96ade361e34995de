// Package token owns the credential lifecycle: issuing access/refresh pairs, stateless
// verification, refresh rotation with replay detection, and revocation.
package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"identity-service/backend/internal/audit"
	"identity-service/backend/internal/db"
	orgdomain "identity-service/backend/internal/organization/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/ids"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/security"
	"identity-service/backend/internal/server/interceptors"
	sessiondomain "identity-service/backend/internal/session/domain"
	"identity-service/backend/internal/telemetry"
	userdomain "identity-service/backend/internal/user/domain"
)

// maxClaimOrgs caps the orgs claim; users in more orgs get no orgs claim at all.
const maxClaimOrgs = 20

// Pair is the result of Issue and Refresh.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	OrgID            string
	FamilyID         string
	Generation       int64
}

// UserReader loads users by id.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// OrgLister lists the orgs a user belongs to.
type OrgLister interface {
	ListByMember(ctx context.Context, userID string, approvedOnly bool) ([]*orgdomain.Org, error)
}

// FamilyRepo persists refresh rotation families.
type FamilyRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Family, error)
	Create(ctx context.Context, f *sessiondomain.Family) error
	Advance(ctx context.Context, id string, from int64, secretHash string, at time.Time) (bool, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

// Deps are the collaborators of Service. Metrics may be nil.
type Deps struct {
	Tx       db.Transactor
	Users    UserReader
	Roles    rbac.OrgRoleResolver
	Orgs     OrgLister
	Families FamilyRepo
	Audit    audit.Appender
	Tokens   *security.TokenProvider
	Metrics  *telemetry.Metrics
}

// Service issues, verifies, refreshes and revokes credentials.
type Service struct {
	Deps
	now func() time.Time
}

// NewService returns a Service over deps.
func NewService(deps Deps) *Service {
	return &Service{Deps: deps, now: time.Now}
}

// SetClock overrides the time source of the service and its token provider. For tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.Tokens.SetClock(now)
}

// Issue starts a new refresh family at generation 0 for userID, optionally scoped to orgID.
// The family row and its token.issue audit entry are written in one transaction.
func (s *Service) Issue(ctx context.Context, userID, orgID string) (pair *Pair, err error) {
	defer func() { s.Metrics.TokenOp(telemetry.OpIssue, err) }()

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := rbac.CheckGlobalPermission(string(user.Role), rbac.PermIssueCredentials); err != nil {
		return nil, err
	}
	if orgID != "" {
		if _, ok, err := s.Roles.ApprovedRole(ctx, orgID, userID); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("no approved membership in org %s: %w", orgID, apperr.ErrForbidden)
		}
	}

	now := s.now().UTC()
	fam := &sessiondomain.Family{
		ID:        ids.NewID(),
		UserID:    userID,
		OrgID:     sql.NullString{String: orgID, Valid: orgID != ""},
		ExpiresAt: now.Add(s.Tokens.RefreshTTL()),
		CreatedAt: now,
	}
	pair, err = s.mint(ctx, user, fam, 0)
	if err != nil {
		return nil, err
	}
	fam.SecretHash = security.HashSecret(pair.RefreshToken)

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Families.Create(ctx, fam); err != nil {
			return fmt.Errorf("create token family: %w", err)
		}
		return s.Audit.Append(ctx, audit.Entry{
			Action:   audit.ActionTokenIssue,
			EntityID: fam.ID,
			ActorID:  userID,
			OrgID:    orgID,
			Details:  map[string]any{"user_id": userID, "generation": 0},
		})
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Verify validates an access token. It takes no locks and touches no store.
func (s *Service) Verify(accessToken string) (claims *security.Claims, err error) {
	defer func() { s.Metrics.TokenOp(telemetry.OpVerify, err) }()
	return s.Tokens.ValidateAccess(accessToken)
}

// Refresh rotates the family named in refreshToken to the next generation.
// A revoked family or a stale generation yields ErrRevoked; a stale generation also revokes the
// family. The advance is a compare-and-set on the generation, retried once, and commits together
// with its token.refresh audit entry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair *Pair, err error) {
	defer func() { s.Metrics.TokenOp(telemetry.OpRefresh, err) }()

	claims, err := s.Tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	fam, err := s.Families.GetByID(ctx, claims.FamilyID)
	if err != nil {
		return nil, err
	}
	if fam == nil || fam.UserID != claims.Subject {
		return nil, fmt.Errorf("unknown token family: %w", apperr.ErrRevoked)
	}
	if fam.Revoked() {
		return nil, fmt.Errorf("token family revoked: %w", apperr.ErrRevoked)
	}
	now := s.now().UTC()
	if fam.Expired(now) {
		return nil, fmt.Errorf("token family expired: %w", apperr.ErrExpired)
	}
	if claims.Generation != fam.Generation || !security.SecretHashEqual(refreshToken, fam.SecretHash) {
		if rerr := s.revokeFamily(ctx, fam, audit.ActionTokenReuse, map[string]any{
			"presented_generation": claims.Generation,
			"current_generation":   fam.Generation,
		}); rerr != nil {
			return nil, rerr
		}
		s.Metrics.TokenOp(telemetry.OpReuse, nil)
		return nil, fmt.Errorf("refresh token reuse detected: %w", apperr.ErrRevoked)
	}

	user, err := s.activeUser(ctx, fam.UserID)
	if err != nil {
		return nil, err
	}
	if fam.OrgID.Valid {
		if _, ok, err := s.Roles.ApprovedRole(ctx, fam.OrgID.String, fam.UserID); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("membership in org %s no longer approved: %w", fam.OrgID.String, apperr.ErrForbidden)
		}
	}

	next := claims.Generation + 1
	pair, err = s.mint(ctx, user, fam, next)
	if err != nil {
		return nil, err
	}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.advance(ctx, fam.ID, claims.Generation, security.HashSecret(pair.RefreshToken), now); err != nil {
			return err
		}
		return s.Audit.Append(ctx, audit.Entry{
			Action:   audit.ActionTokenRefresh,
			EntityID: fam.ID,
			ActorID:  fam.UserID,
			OrgID:    fam.OrgID.String,
			Details:  map[string]any{"generation": next},
		})
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// advance runs the compare-and-advance. On a miss the row is re-read once: if another caller
// advanced or revoked it, the caller lost; otherwise the update is retried a single time.
func (s *Service) advance(ctx context.Context, familyID string, from int64, secretHash string, at time.Time) error {
	ok, err := s.Families.Advance(ctx, familyID, from, secretHash, at)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	cur, err := s.Families.GetByID(ctx, familyID)
	if err != nil {
		return err
	}
	if cur == nil || cur.Revoked() || cur.Generation != from {
		return fmt.Errorf("token family advanced concurrently: %w", apperr.ErrRevoked)
	}
	ok, err = s.Families.Advance(ctx, familyID, from, secretHash, at)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("token family advance failed: %w", apperr.ErrRevoked)
	}
	return nil
}

// RevokeToken revokes the family of refreshToken. Revoking an already revoked family is a no-op.
func (s *Service) RevokeToken(ctx context.Context, refreshToken string) (err error) {
	defer func() { s.Metrics.TokenOp(telemetry.OpRevoke, err) }()

	claims, err := s.Tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return err
	}
	fam, err := s.Families.GetByID(ctx, claims.FamilyID)
	if err != nil {
		return err
	}
	if fam == nil || fam.UserID != claims.Subject {
		return fmt.Errorf("unknown token family: %w", apperr.ErrRevoked)
	}
	if fam.Revoked() {
		return nil
	}
	return s.revokeFamily(ctx, fam, audit.ActionTokenRevoke, nil)
}

func (s *Service) revokeFamily(ctx context.Context, fam *sessiondomain.Family, action string, details map[string]any) error {
	actor, _ := interceptors.GetUserID(ctx)
	if actor == "" {
		actor = fam.UserID
	}
	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		changed, err := s.Families.Revoke(ctx, fam.ID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("revoke token family: %w", err)
		}
		if !changed {
			return nil
		}
		return s.Audit.Append(ctx, audit.Entry{
			Action:   action,
			EntityID: fam.ID,
			ActorID:  actor,
			OrgID:    fam.OrgID.String,
			Details:  details,
		})
	})
}

// RevokeUser revokes every active family of userID and returns how many were revoked.
// The actor recorded in the audit entry is the authenticated caller in ctx, if any.
func (s *Service) RevokeUser(ctx context.Context, userID string) (n int64, err error) {
	defer func() { s.Metrics.TokenOp(telemetry.OpRevoke, err) }()

	actor, _ := interceptors.GetUserID(ctx)
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err = s.Families.RevokeAllByUser(ctx, userID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("revoke user families: %w", err)
		}
		return s.Audit.Append(ctx, audit.Entry{
			Action:     audit.ActionTokenRevoke,
			EntityType: audit.EntityUser,
			EntityID:   userID,
			ActorID:    actor,
			Details:    map[string]any{"families": n},
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) activeUser(ctx context.Context, userID string) (*userdomain.User, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	if user.Status == userdomain.StatusBlocked {
		return nil, fmt.Errorf("user %s is blocked: %w", userID, apperr.ErrInvalidState)
	}
	return user, nil
}

// mint signs an access token and a refresh token for fam at generation gen.
func (s *Service) mint(ctx context.Context, user *userdomain.User, fam *sessiondomain.Family, gen int64) (*Pair, error) {
	orgIDs, err := s.claimOrgs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, ac, err := s.Tokens.IssueAccess(security.AccessInput{
		UserID: user.ID,
		Role:   string(user.Role),
		OrgID:  fam.OrgID.String,
		OrgIDs: orgIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, _, err := s.Tokens.IssueRefresh(user.ID, fam.OrgID.String, fam.ID, gen, fam.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: fam.ExpiresAt,
		UserID:           user.ID,
		OrgID:            fam.OrgID.String,
		FamilyID:         fam.ID,
		Generation:       gen,
	}, nil
}

func (s *Service) claimOrgs(ctx context.Context, userID string) ([]string, error) {
	if s.Orgs == nil {
		return nil, nil
	}
	orgs, err := s.Orgs.ListByMember(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 || len(orgs) > maxClaimOrgs {
		return nil, nil
	}
	out := make([]string, len(orgs))
	for i, o := range orgs {
		out[i] = o.ID
	}
	return out, nil
}
