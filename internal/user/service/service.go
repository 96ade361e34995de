// Package service implements administrative user operations and internal user lookups.
package service

import (
	"context"
	"fmt"

	"identity-service/backend/internal/audit"
	"identity-service/backend/internal/db"
	orgdomain "identity-service/backend/internal/organization/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/user/domain"
)

// UserRepo is the user persistence the service needs.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.User, error)
}

// OrgLister lists a user's organizations.
type OrgLister interface {
	ListByMember(ctx context.Context, userID string, approvedOnly bool) ([]*orgdomain.Org, error)
}

// Revoker ends every credential family of a user.
type Revoker interface {
	RevokeUser(ctx context.Context, userID string) (int64, error)
}

// Service manages users.
type Service struct {
	tx     db.Transactor
	users  UserRepo
	orgs   OrgLister
	tokens Revoker
	audit  audit.Appender
}

// NewService returns a user service.
func NewService(tx db.Transactor, users UserRepo, orgs OrgLister, tokens Revoker, appender audit.Appender) *Service {
	return &Service{tx: tx, users: users, orgs: orgs, tokens: tokens, audit: appender}
}

// Block moves userID to blocked and revokes all of their token families in the same
// transaction. The caller in ctx needs manage-users. Blocking a blocked user is ErrInvalidState.
func (s *Service) Block(ctx context.Context, userID, reason string) error {
	actorID, err := rbac.RequireGlobalPermission(ctx, rbac.PermManageUsers)
	if err != nil {
		return err
	}
	if actorID == userID {
		return fmt.Errorf("cannot block yourself: %w", apperr.ErrForbidden)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.get(ctx, userID)
		if err != nil {
			return err
		}
		if !u.Status.CanTransition(domain.StatusBlocked) {
			return fmt.Errorf("user is %s: %w", u.Status, apperr.ErrInvalidState)
		}
		ok, err := s.users.UpdateStatus(ctx, userID, u.Status, domain.StatusBlocked)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("user status changed concurrently: %w", apperr.ErrInvalidState)
		}
		details := map[string]any{"previous_status": string(u.Status)}
		if reason != "" {
			details["reason"] = reason
		}
		if err := s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionUserBlocked,
			EntityID: userID,
			ActorID:  actorID,
			Details:  details,
		}); err != nil {
			return err
		}
		_, err = s.tokens.RevokeUser(ctx, userID)
		return err
	})
}

// Get returns userID for internal callers.
func (s *Service) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.get(ctx, userID)
}

// Orgs returns the orgs userID is an approved member of.
func (s *Service) Orgs(ctx context.Context, userID string) ([]*orgdomain.Org, error) {
	if _, err := s.get(ctx, userID); err != nil {
		return nil, err
	}
	return s.orgs.ListByMember(ctx, userID, true)
}

// OrgUsers returns the approved members of orgID.
func (s *Service) OrgUsers(ctx context.Context, orgID string) ([]*domain.User, error) {
	return s.users.ListByOrg(ctx, orgID)
}

func (s *Service) get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return u, nil
}
