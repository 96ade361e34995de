package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	auditdomain "identity-service/backend/internal/audit/domain"
	auditrepo "identity-service/backend/internal/audit/repository"
	"identity-service/backend/internal/db"
	memberdomain "identity-service/backend/internal/membership/domain"
	memberrepo "identity-service/backend/internal/membership/repository"
	orgdomain "identity-service/backend/internal/organization/domain"
	orgrepo "identity-service/backend/internal/organization/repository"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/rbac"
	sessiondomain "identity-service/backend/internal/session/domain"
	sessionrepo "identity-service/backend/internal/session/repository"
	userdomain "identity-service/backend/internal/user/domain"
	userrepo "identity-service/backend/internal/user/repository"
)

var (
	_ userrepo.Repository    = (*Users)(nil)
	_ orgrepo.Repository     = (*Orgs)(nil)
	_ memberrepo.Repository  = (*Memberships)(nil)
	_ sessionrepo.Repository = (*Sessions)(nil)
	_ auditrepo.Repository   = (*Audit)(nil)
	_ db.Transactor          = (*Store)(nil)
)

// Users implements the user repository.
type Users struct{ s *Store }

func (r *Users) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyUser(r.s.users[id]), nil
}

func (r *Users) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	return r.find(func(u *userdomain.User) bool { return u.Email == email }), nil
}

func (r *Users) GetByINN(_ context.Context, inn string) (*userdomain.User, error) {
	return r.find(func(u *userdomain.User) bool { return u.INN == inn }), nil
}

func (r *Users) find(match func(*userdomain.User) bool) *userdomain.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

func (r *Users) Create(ctx context.Context, u *userdomain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("user with this email already exists: %w", apperr.ErrConflict)
		}
		if existing.INN == u.INN {
			return fmt.Errorf("user with this inn already exists: %w", apperr.ErrConflict)
		}
	}
	if _, ok := r.s.users[u.ID]; ok {
		return fmt.Errorf("user id taken: %w", apperr.ErrConflict)
	}
	r.s.users[u.ID] = copyUser(u)
	record(ctx, func() { delete(r.s.users, u.ID) })
	return nil
}

func (r *Users) UpdateStatus(ctx context.Context, id string, from, to userdomain.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.Status != from {
		return false, nil
	}
	prev := *u
	u.Status = to
	u.UpdatedAt = time.Now().UTC()
	record(ctx, func() { *u = prev })
	return true, nil
}

func (r *Users) UpdateVerification(ctx context.Context, id string, v userdomain.Verification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	prev := *u
	u.Verification = v
	u.UpdatedAt = time.Now().UTC()
	record(ctx, func() { *u = prev })
	return nil
}

func (r *Users) IncrementAttempts(ctx context.Context, id string, from int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.Verification.Attempts != from {
		return false, nil
	}
	prev := *u
	u.Verification.Attempts++
	u.UpdatedAt = time.Now().UTC()
	record(ctx, func() { *u = prev })
	return true, nil
}

func (r *Users) ListByOrg(_ context.Context, orgID string) ([]*userdomain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*userdomain.User
	for k, m := range r.s.members {
		if k.org != orgID || m.Status != memberdomain.StatusApproved {
			continue
		}
		if u, ok := r.s.users[k.user]; ok {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyUser(u *userdomain.User) *userdomain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Orgs implements the organization repository.
type Orgs struct{ s *Store }

func (r *Orgs) GetByID(_ context.Context, id string) (*orgdomain.Org, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyOrg(r.s.orgs[id]), nil
}

// GetForUpdate is GetByID. The store has no row locks.
func (r *Orgs) GetForUpdate(ctx context.Context, id string) (*orgdomain.Org, error) {
	return r.GetByID(ctx, id)
}

func (r *Orgs) Create(ctx context.Context, o *orgdomain.Org) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orgs[o.ID]; ok {
		return fmt.Errorf("org id taken: %w", apperr.ErrConflict)
	}
	r.s.orgs[o.ID] = copyOrg(o)
	record(ctx, func() { delete(r.s.orgs, o.ID) })
	return nil
}

func (r *Orgs) Update(ctx context.Context, o *orgdomain.Org) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.orgs[o.ID]
	if !ok {
		return nil
	}
	prev := *cur
	cur.Name, cur.OGRN, cur.Email, cur.Phone, cur.UpdatedAt = o.Name, o.OGRN, o.Email, o.Phone, o.UpdatedAt
	record(ctx, func() { *cur = prev })
	return nil
}

func (r *Orgs) ListByMember(_ context.Context, userID string, approvedOnly bool) ([]*orgdomain.Org, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var links []*memberdomain.Membership
	for k, m := range r.s.members {
		if k.user == userID && (!approvedOnly || m.Status == memberdomain.StatusApproved) {
			links = append(links, m)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if !links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].CreatedAt.Before(links[j].CreatedAt)
		}
		return links[i].OrgID < links[j].OrgID
	})
	out := make([]*orgdomain.Org, 0, len(links))
	for _, m := range links {
		if o, ok := r.s.orgs[m.OrgID]; ok {
			out = append(out, copyOrg(o))
		}
	}
	return out, nil
}

func copyOrg(o *orgdomain.Org) *orgdomain.Org {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// Memberships implements the membership repository.
type Memberships struct{ s *Store }

func (r *Memberships) Get(_ context.Context, orgID, userID string) (*memberdomain.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyMember(r.s.members[memberKey{orgID, userID}]), nil
}

func (r *Memberships) Create(ctx context.Context, m *memberdomain.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orgs[m.OrgID]; !ok {
		return fmt.Errorf("org or user: %w", apperr.ErrNotFound)
	}
	if _, ok := r.s.users[m.UserID]; !ok {
		return fmt.Errorf("org or user: %w", apperr.ErrNotFound)
	}
	k := memberKey{m.OrgID, m.UserID}
	if _, ok := r.s.members[k]; ok {
		return fmt.Errorf("membership already exists: %w", apperr.ErrConflict)
	}
	r.s.members[k] = copyMember(m)
	record(ctx, func() { delete(r.s.members, k) })
	return nil
}

func (r *Memberships) Approve(ctx context.Context, orgID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[memberKey{orgID, userID}]
	if !ok || m.Status != memberdomain.StatusPending {
		return false, nil
	}
	prev := *m
	m.Status = memberdomain.StatusApproved
	m.UpdatedAt = time.Now().UTC()
	record(ctx, func() { *m = prev })
	return true, nil
}

func (r *Memberships) Delete(ctx context.Context, orgID, userID string, status memberdomain.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{orgID, userID}
	m, ok := r.s.members[k]
	if !ok || m.Status != status {
		return false, nil
	}
	delete(r.s.members, k)
	record(ctx, func() { r.s.members[k] = m })
	return true, nil
}

func (r *Memberships) ListByOrg(_ context.Context, orgID string) ([]*memberdomain.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*memberdomain.Membership
	for k, m := range r.s.members {
		if k.org == orgID {
			out = append(out, copyMember(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status > out[j].Status
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (r *Memberships) LockApprovedDirectors(_ context.Context, orgID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []string
	for k, m := range r.s.members {
		if k.org == orgID && m.Status == memberdomain.StatusApproved && m.Role == rbac.MemberDirector {
			out = append(out, k.user)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Memberships) ApprovedRole(_ context.Context, orgID, userID string) (rbac.MembershipRole, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[memberKey{orgID, userID}]
	if !ok || m.Status != memberdomain.StatusApproved {
		return "", false, nil
	}
	return m.Role, true, nil
}

func copyMember(m *memberdomain.Membership) *memberdomain.Membership {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Sessions implements the refresh family repository.
type Sessions struct{ s *Store }

func (r *Sessions) GetByID(_ context.Context, id string) (*sessiondomain.Family, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyFamily(r.s.sessions[id]), nil
}

func (r *Sessions) Create(ctx context.Context, f *sessiondomain.Family) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[f.UserID]; !ok {
		return fmt.Errorf("session user: %w", apperr.ErrNotFound)
	}
	r.s.sessions[f.ID] = copyFamily(f)
	record(ctx, func() { delete(r.s.sessions, f.ID) })
	return nil
}

func (r *Sessions) Advance(ctx context.Context, id string, from int64, secretHash string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.sessions[id]
	if !ok || f.Generation != from || f.RevokedAt != nil {
		return false, nil
	}
	prev := *f
	f.Generation = from + 1
	f.SecretHash = secretHash
	seen := at
	f.LastSeenAt = &seen
	record(ctx, func() { *f = prev })
	return true, nil
}

func (r *Sessions) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.sessions[id]
	if !ok || f.RevokedAt != nil {
		return false, nil
	}
	revoked := at
	f.RevokedAt = &revoked
	record(ctx, func() { f.RevokedAt = nil })
	return true, nil
}

func (r *Sessions) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, f := range r.s.sessions {
		if f.UserID != userID || f.RevokedAt != nil {
			continue
		}
		revoked := at
		f.RevokedAt = &revoked
		record(ctx, func() { f.RevokedAt = nil })
		n++
	}
	return n, nil
}

func copyFamily(f *sessiondomain.Family) *sessiondomain.Family {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

// Audit implements the append-only audit repository. It has no way to change a written entry.
type Audit struct{ s *Store }

func (r *Audit) Create(ctx context.Context, e *auditdomain.Entry) error {
	if !db.InUnit(ctx) {
		return auditrepo.ErrNoTransaction
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.auditErr != nil {
		return r.s.auditErr
	}
	r.s.auditSeq++
	row := *e
	row.ID = r.s.auditSeq
	r.s.audit = append(r.s.audit, &row)
	record(ctx, func() {
		for i, e := range r.s.audit {
			if e.ID == row.ID {
				r.s.audit = append(r.s.audit[:i], r.s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *Audit) List(_ context.Context, f auditdomain.Filter) ([]*auditdomain.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []*auditdomain.Entry
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.audit[i]
		if f.OrgID != "" && e.OrgID.String != f.OrgID {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.BeforeID > 0 && e.ID >= f.BeforeID {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}
