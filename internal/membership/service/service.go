// Package service implements the organization membership state machine:
// absent -> pending -> approved, with pending -> absent (reject or withdraw) and
// approved -> absent (remove). There is no approved -> pending.
package service

import (
	"context"
	"fmt"
	"time"

	"identity-service/backend/internal/audit"
	"identity-service/backend/internal/db"
	"identity-service/backend/internal/membership/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/server/interceptors"
	userdomain "identity-service/backend/internal/user/domain"
)

// MembershipRepo is the membership persistence the manager needs.
type MembershipRepo interface {
	rbac.OrgRoleResolver
	Get(ctx context.Context, orgID, userID string) (*domain.Membership, error)
	Create(ctx context.Context, m *domain.Membership) error
	Approve(ctx context.Context, orgID, userID string) (bool, error)
	Delete(ctx context.Context, orgID, userID string, status domain.Status) (bool, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	LockApprovedDirectors(ctx context.Context, orgID string) ([]string, error)
}

// UserFinder resolves invitees by tax id.
type UserFinder interface {
	GetByINN(ctx context.Context, inn string) (*userdomain.User, error)
}

// listRequirement lets members read their org, and global admins read any org.
var listRequirement = rbac.Requirement{Org: rbac.PermReadSelf, GlobalAlt: rbac.PermManageAnyOrg}

// Service is the Membership Manager. Every transition and its audit entry commit together.
type Service struct {
	tx      db.Transactor
	members MembershipRepo
	users   UserFinder
	audit   audit.Appender
	now     func() time.Time
}

// NewService returns a membership manager.
func NewService(tx db.Transactor, members MembershipRepo, users UserFinder, appender audit.Appender) *Service {
	return &Service{tx: tx, members: members, users: users, audit: appender, now: time.Now}
}

// Enroll creates a pending membership. Self-enrollment needs no permission but is limited to
// the agent and accountant roles; enrolling someone else needs approve-membership in orgID.
func (s *Service) Enroll(ctx context.Context, actorID, orgID, targetUserID string, role rbac.MembershipRole) (*domain.Membership, error) {
	if role == "" {
		role = rbac.MemberAgent
	}
	if _, err := rbac.ParseMembershipRole(string(role)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	if targetUserID == "" {
		return nil, fmt.Errorf("user id is required: %w", apperr.ErrValidation)
	}
	invited := actorID != targetUserID
	if invited {
		if err := rbac.CheckOrgPermission(ctx, s.members, actorID, orgID, rbac.PermApproveMembership); err != nil {
			return nil, err
		}
	} else if role == rbac.MemberDirector {
		return nil, fmt.Errorf("cannot request role %s for yourself: %w", role, apperr.ErrForbidden)
	}
	now := s.now().UTC()
	m := &domain.Membership{
		OrgID:     orgID,
		UserID:    targetUserID,
		Role:      role,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.members.Create(ctx, m); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgLinkUser,
			EntityID: orgID,
			ActorID:  actorID,
			OrgID:    orgID,
			Details: map[string]any{
				"user_id": targetUserID,
				"role":    string(role),
				"status":  string(domain.StatusPending),
				"invited": invited,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Invite enrolls the user with the given tax id on behalf of actorID.
func (s *Service) Invite(ctx context.Context, actorID, orgID, inn string, role rbac.MembershipRole) (*domain.Membership, error) {
	if err := userdomain.ValidateINN(inn); err != nil {
		return nil, err
	}
	// Check before the lookup so non-directors cannot learn which tax ids are registered.
	if err := rbac.CheckOrgPermission(ctx, s.members, actorID, orgID, rbac.PermApproveMembership); err != nil {
		return nil, err
	}
	u, err := s.users.GetByINN(ctx, inn)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user with inn %s: %w", inn, apperr.ErrNotFound)
	}
	return s.Enroll(ctx, actorID, orgID, u.ID, role)
}

// Approve moves a pending membership to approved. The actor must be someone else holding
// approve-membership in orgID.
func (s *Service) Approve(ctx context.Context, actorID, orgID, userID string) error {
	if actorID == userID {
		return fmt.Errorf("cannot approve own membership: %w", apperr.ErrForbidden)
	}
	if err := rbac.CheckOrgPermission(ctx, s.members, actorID, orgID, rbac.PermApproveMembership); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.members.Approve(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return s.missedTransition(ctx, orgID, userID, domain.StatusPending)
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgApprove,
			EntityID: orgID,
			ActorID:  actorID,
			OrgID:    orgID,
			Details:  map[string]any{"user_id": userID},
		})
	})
}

// Reject deletes a pending membership. The target may withdraw their own request.
func (s *Service) Reject(ctx context.Context, actorID, orgID, userID string) error {
	withdrawn := actorID == userID
	if !withdrawn {
		if err := rbac.CheckOrgPermission(ctx, s.members, actorID, orgID, rbac.PermApproveMembership); err != nil {
			return err
		}
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.members.Delete(ctx, orgID, userID, domain.StatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return s.missedTransition(ctx, orgID, userID, domain.StatusPending)
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgReject,
			EntityID: orgID,
			ActorID:  actorID,
			OrgID:    orgID,
			Details:  map[string]any{"user_id": userID, "withdrawn": withdrawn},
		})
	})
}

// Remove deletes an approved membership. Members may leave on their own. The last approved
// director cannot be removed.
func (s *Service) Remove(ctx context.Context, actorID, orgID, userID string) error {
	left := actorID == userID
	if !left {
		if err := rbac.CheckOrgPermission(ctx, s.members, actorID, orgID, rbac.PermApproveMembership); err != nil {
			return err
		}
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.members.Get(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("membership %s/%s: %w", orgID, userID, apperr.ErrNotFound)
		}
		if m.Status != domain.StatusApproved {
			return fmt.Errorf("membership is %s, not approved: %w", m.Status, apperr.ErrInvalidState)
		}
		if m.Role == rbac.MemberDirector {
			directors, err := s.members.LockApprovedDirectors(ctx, orgID)
			if err != nil {
				return err
			}
			if len(directors) == 1 && directors[0] == userID {
				return fmt.Errorf("cannot remove the last director of org %s: %w", orgID, apperr.ErrInvalidState)
			}
		}
		ok, err := s.members.Delete(ctx, orgID, userID, domain.StatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			return s.missedTransition(ctx, orgID, userID, domain.StatusApproved)
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgUnlinkUser,
			EntityID: orgID,
			ActorID:  actorID,
			OrgID:    orgID,
			Details:  map[string]any{"user_id": userID, "role": string(m.Role), "left": left},
		})
	})
}

// List returns the memberships of orgID. The caller needs an approved membership there, or
// manage-any-org globally.
func (s *Service) List(ctx context.Context, actorID, orgID string) ([]*domain.Membership, error) {
	role, _ := interceptors.GetRole(ctx)
	if err := listRequirement.Check(ctx, s.members, actorID, role, orgID); err != nil {
		return nil, err
	}
	return s.members.ListByOrg(ctx, orgID)
}

// Bootstrap links the creator of a new org as its approved director. It joins the
// org-creation transaction carried by ctx.
func (s *Service) Bootstrap(ctx context.Context, orgID, userID string) error {
	now := s.now().UTC()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.members.Create(ctx, &domain.Membership{
			OrgID:     orgID,
			UserID:    userID,
			Role:      rbac.MemberDirector,
			Status:    domain.StatusApproved,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgLinkUser,
			EntityID: orgID,
			ActorID:  userID,
			OrgID:    orgID,
			Details: map[string]any{
				"user_id": userID,
				"role":    string(rbac.MemberDirector),
				"status":  string(domain.StatusApproved),
				"creator": true,
			},
		})
	})
}

// missedTransition explains why a conditional update keyed on want changed no row.
func (s *Service) missedTransition(ctx context.Context, orgID, userID string, want domain.Status) error {
	m, err := s.members.Get(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("membership %s/%s: %w", orgID, userID, apperr.ErrNotFound)
	}
	return fmt.Errorf("membership is %s, expected %s: %w", m.Status, want, apperr.ErrInvalidState)
}
