// Package service implements organization creation, lookup and update.
package service

import (
	"context"
	"fmt"
	"time"

	"identity-service/backend/internal/audit"
	"identity-service/backend/internal/db"
	"identity-service/backend/internal/events"
	"identity-service/backend/internal/organization/domain"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/ids"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/server/interceptors"
)

var (
	readRequirement   = rbac.Requirement{Org: rbac.PermReadSelf, GlobalAlt: rbac.PermManageAnyOrg}
	updateRequirement = rbac.Requirement{Org: rbac.PermManageOwnOrg, GlobalAlt: rbac.PermManageAnyOrg}
)

// OrgRepo is the organization persistence the service needs.
type OrgRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Org, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Org, error)
	Create(ctx context.Context, o *domain.Org) error
	Update(ctx context.Context, o *domain.Org) error
	ListByMember(ctx context.Context, userID string, approvedOnly bool) ([]*domain.Org, error)
}

// Bootstrapper links an org's creator as its first director inside the creating transaction.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, orgID, userID string) error
}

// Service manages organizations.
type Service struct {
	tx      db.Transactor
	orgs    OrgRepo
	roles   rbac.OrgRoleResolver
	members Bootstrapper
	audit   audit.Appender
	events  events.Publisher
	now     func() time.Time
}

// NewService returns an organization service. A nil publisher drops events.
func NewService(tx db.Transactor, orgs OrgRepo, roles rbac.OrgRoleResolver, members Bootstrapper, appender audit.Appender, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		tx:      tx,
		orgs:    orgs,
		roles:   roles,
		members: members,
		audit:   appender,
		events:  publisher,
		now:     time.Now,
	}
}

// Create stores a new org and makes actorID its approved director, all in one transaction.
func (s *Service) Create(ctx context.Context, actorID string, org domain.Org) (*domain.Org, error) {
	role, _ := interceptors.GetRole(ctx)
	if err := rbac.CheckGlobalPermission(role, rbac.PermManageOwnOrg); err != nil {
		return nil, err
	}
	if err := org.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	org.ID = ids.NewID()
	org.CreatedAt, org.UpdatedAt = now, now

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.Create(ctx, &org); err != nil {
			return err
		}
		if err := s.members.Bootstrap(ctx, org.ID, actorID); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgCreate,
			EntityID: org.ID,
			ActorID:  actorID,
			OrgID:    org.ID,
			Details:  map[string]any{"name": org.Name, "inn": org.INN},
		}); err != nil {
			return err
		}
		events.PublishAfterCommit(ctx, s.events, events.OrgCreated(org.ID, org.Name, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// Get returns orgID to its members and to global admins.
func (s *Service) Get(ctx context.Context, actorID, orgID string) (*domain.Org, error) {
	role, _ := interceptors.GetRole(ctx)
	if err := readRequirement.Check(ctx, s.roles, actorID, role, orgID); err != nil {
		return nil, err
	}
	return s.load(ctx, orgID)
}

// Update applies patch to orgID under a row lock, so concurrent patches apply one after
// the other. A patch that changes nothing writes nothing.
func (s *Service) Update(ctx context.Context, actorID, orgID string, patch domain.Patch) (*domain.Org, error) {
	role, _ := interceptors.GetRole(ctx)
	if err := updateRequirement.Check(ctx, s.roles, actorID, role, orgID); err != nil {
		return nil, err
	}
	var org *domain.Org
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if org, err = s.orgs.GetForUpdate(ctx, orgID); err != nil {
			return err
		}
		if org == nil {
			return fmt.Errorf("organization %s: %w", orgID, apperr.ErrNotFound)
		}
		changed := patch.Apply(org)
		if len(changed) == 0 {
			return nil
		}
		if err := org.Validate(); err != nil {
			return err
		}
		now := s.now().UTC()
		org.UpdatedAt = now
		if err := s.orgs.Update(ctx, org); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionOrgUpdate,
			EntityID: orgID,
			ActorID:  actorID,
			OrgID:    orgID,
			Details:  map[string]any{"changed_fields": changed},
		}); err != nil {
			return err
		}
		events.PublishAfterCommit(ctx, s.events, events.OrgUpdated(orgID, changed, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// My lists the orgs userID belongs to, pending memberships included.
func (s *Service) My(ctx context.Context, userID string) ([]*domain.Org, error) {
	return s.orgs.ListByMember(ctx, userID, false)
}

// Lookup returns an org without authorization, for trusted internal callers.
func (s *Service) Lookup(ctx context.Context, orgID string) (*domain.Org, error) {
	return s.load(ctx, orgID)
}

func (s *Service) load(ctx context.Context, orgID string) (*domain.Org, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("organization %s: %w", orgID, apperr.ErrNotFound)
	}
	return org, nil
}
