// Package memstore holds in-memory repositories with the same contracts as the Postgres ones.
// Service tests use it in place of a database. Writes inside WithinTx are undone if fn fails.
package memstore

import (
	"context"
	"sync"

	auditdomain "identity-service/backend/internal/audit/domain"
	"identity-service/backend/internal/db"
	memberdomain "identity-service/backend/internal/membership/domain"
	orgdomain "identity-service/backend/internal/organization/domain"
	sessiondomain "identity-service/backend/internal/session/domain"
	userdomain "identity-service/backend/internal/user/domain"
)

type memberKey struct{ org, user string }

type txKey struct{}

// txLog collects undo steps for writes made inside one WithinTx call.
type txLog struct {
	undo []func()
}

// Store is the shared state behind every repository view.
type Store struct {
	mu       sync.Mutex
	users    map[string]*userdomain.User
	orgs     map[string]*orgdomain.Org
	members  map[memberKey]*memberdomain.Membership
	sessions map[string]*sessiondomain.Family
	audit    []*auditdomain.Entry
	auditSeq int64
	auditErr error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*userdomain.User),
		orgs:     make(map[string]*orgdomain.Org),
		members:  make(map[memberKey]*memberdomain.Membership),
		sessions: make(map[string]*sessiondomain.Family),
	}
}

// WithinTx implements db.Transactor. After-commit hooks run only when fn succeeds; on error
// every write made through ctx is reverted.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.InUnit(ctx) {
		return fn(ctx)
	}
	log := &txLog{}
	ctx, unit := db.StartUnit(context.WithValue(ctx, txKey{}, log), nil)
	if err := fn(ctx); err != nil {
		s.mu.Lock()
		for i := len(log.undo) - 1; i >= 0; i-- {
			log.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	unit.Committed()
	return nil
}

// record registers undo for the write just made. Callers hold s.mu.
func record(ctx context.Context, undo func()) {
	if log, ok := ctx.Value(txKey{}).(*txLog); ok {
		log.undo = append(log.undo, undo)
	}
}

// FailAudit makes every following audit append return err. Pass nil to restore.
func (s *Store) FailAudit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = err
}

// AuditEntries returns a copy of the log, oldest first.
func (s *Store) AuditEntries() []auditdomain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auditdomain.Entry, len(s.audit))
	for i, e := range s.audit {
		out[i] = *e
	}
	return out
}

// Users returns the user repository view.
func (s *Store) Users() *Users { return &Users{s: s} }

// Orgs returns the organization repository view.
func (s *Store) Orgs() *Orgs { return &Orgs{s: s} }

// Memberships returns the membership repository view.
func (s *Store) Memberships() *Memberships { return &Memberships{s: s} }

// Sessions returns the refresh family repository view.
func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// Audit returns the audit log repository view.
func (s *Store) Audit() *Audit { return &Audit{s: s} }
