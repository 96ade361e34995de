// Package audit appends identity mutations to the append-only audit log and mirrors them as events.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"identity-service/backend/internal/audit/domain"
	auditrepo "identity-service/backend/internal/audit/repository"
	"identity-service/backend/internal/events"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/telemetry"
)

// Entry describes one mutation to record. EntityType defaults to the one implied by Action.
type Entry struct {
	Action     string
	EntityType string
	EntityID   string
	ActorID    string
	OrgID      string
	Details    map[string]any
}

// Appender is what services depend on to record mutations.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Recorder writes audit entries inside the caller's transaction. Unlike best-effort logging, a
// failed write is returned so the surrounding transaction rolls back with it.
type Recorder struct {
	repo      auditrepo.Repository
	publisher events.Publisher
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewRecorder returns a Recorder over repo. publisher and metrics may be nil.
func NewRecorder(repo auditrepo.Repository, publisher events.Publisher, metrics *telemetry.Metrics) *Recorder {
	return &Recorder{repo: repo, publisher: publisher, metrics: metrics, now: time.Now}
}

// Append inserts e using the transaction bound to ctx. Every failure wraps
// apperr.ErrAuditWriteFailure. Once the transaction commits, the entry is mirrored on
// identity.audit.<action>.
func (r *Recorder) Append(ctx context.Context, e Entry) error {
	err := r.append(ctx, e)
	r.metrics.AuditAppend(e.Action, err)
	return err
}

func (r *Recorder) append(ctx context.Context, e Entry) error {
	if !KnownAction(e.Action) || e.EntityID == "" {
		return fmt.Errorf("audit: invalid entry %q/%q: %w", e.Action, e.EntityID, apperr.ErrAuditWriteFailure)
	}
	if e.EntityType == "" {
		e.EntityType = EntityTypeFor(e.Action)
	}
	at := r.now().UTC()
	row := &domain.Entry{
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		ActorID:    nullable(e.ActorID),
		OrgID:      nullable(e.OrgID),
		Details:    domain.Details(e.Details),
		CreatedAt:  at,
	}
	if err := r.repo.Create(ctx, row); err != nil {
		return fmt.Errorf("audit %s: %w: %w", e.Action, apperr.ErrAuditWriteFailure, err)
	}
	events.PublishAfterCommit(ctx, r.publisher,
		events.AuditRecorded(e.Action, e.EntityType, e.EntityID, e.ActorID, e.OrgID, at))
	return nil
}

// List returns entries newest first. Authorization is the caller's job.
func (r *Recorder) List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error) {
	return r.repo.List(ctx, f)
}

// ListFor returns the entries actorID may see. Listing across orgs needs view-audit-log globally;
// listing one org also accepts view-audit-log through an approved membership there.
func (r *Recorder) ListFor(ctx context.Context, roles rbac.OrgRoleResolver, actorID, globalRole string, f domain.Filter) ([]*domain.Entry, error) {
	if f.OrgID == "" {
		if err := rbac.CheckGlobalPermission(globalRole, rbac.PermViewAuditLog); err != nil {
			return nil, err
		}
	} else {
		req := rbac.Requirement{Org: rbac.PermViewAuditLog, GlobalAlt: rbac.PermViewAuditLog}
		if err := req.Check(ctx, roles, actorID, globalRole, f.OrgID); err != nil {
			return nil, err
		}
	}
	return r.repo.List(ctx, f)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
