package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "identity-service/backend/internal/audit/domain"
	auditrepo "identity-service/backend/internal/audit/repository"
	"identity-service/backend/internal/events"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/memstore"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/telemetry"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	done   chan struct{}
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{done: make(chan struct{}, 16)}
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func TestRecorder_AppendInTx(t *testing.T) {
	store := memstore.New()
	pub := newCapturePublisher()
	rec := NewRecorder(store.Audit(), pub, telemetry.NewMetrics())

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		return rec.Append(ctx, Entry{
			Action:   ActionOrgApprove,
			EntityID: "org-1",
			ActorID:  "u-director",
			OrgID:    "org-1",
			Details:  map[string]any{"user_id": "u-agent"},
		})
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries := store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.EntityType != EntityOrganization {
		t.Errorf("entity_type = %q, want %q", e.EntityType, EntityOrganization)
	}
	if e.ActorID.String != "u-director" || !e.OrgID.Valid {
		t.Errorf("actor/org = %+v / %+v", e.ActorID, e.OrgID)
	}
	if e.Details["user_id"] != "u-agent" {
		t.Errorf("details = %v", e.Details)
	}

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit mirror event not published")
	}
	if got := pub.events[0].Subject; got != "identity.audit."+ActionOrgApprove {
		t.Errorf("subject = %q", got)
	}
}

func TestRecorder_AppendOutsideTxFails(t *testing.T) {
	store := memstore.New()
	rec := NewRecorder(store.Audit(), nil, nil)
	err := rec.Append(context.Background(), Entry{Action: ActionUserLogin, EntityID: "u1"})
	if !errors.Is(err, apperr.ErrAuditWriteFailure) {
		t.Fatalf("err = %v, want ErrAuditWriteFailure", err)
	}
	if !errors.Is(err, auditrepo.ErrNoTransaction) {
		t.Errorf("err = %v, want wrapped ErrNoTransaction", err)
	}
}

func TestRecorder_FailureRollsBackAndPublishesNothing(t *testing.T) {
	store := memstore.New()
	pub := newCapturePublisher()
	rec := NewRecorder(store.Audit(), pub, nil)
	store.FailAudit(errors.New("disk full"))

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		return rec.Append(ctx, Entry{Action: ActionUserLogin, EntityID: "u1"})
	})
	if !errors.Is(err, apperr.ErrAuditWriteFailure) {
		t.Fatalf("err = %v, want ErrAuditWriteFailure", err)
	}
	select {
	case <-pub.done:
		t.Fatal("no event may be published for a failed append")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecorder_RejectsInvalidEntry(t *testing.T) {
	store := memstore.New()
	rec := NewRecorder(store.Audit(), nil, nil)
	for _, e := range []Entry{
		{Action: "user.delete", EntityID: "u1"},
		{Action: ActionUserLogin},
	} {
		err := store.WithinTx(context.Background(), func(ctx context.Context) error { return rec.Append(ctx, e) })
		if !errors.Is(err, apperr.ErrAuditWriteFailure) {
			t.Errorf("Append(%+v) = %v, want ErrAuditWriteFailure", e, err)
		}
	}
}

func TestRecorder_List(t *testing.T) {
	store := memstore.New()
	rec := NewRecorder(store.Audit(), nil, nil)
	for _, org := range []string{"o1", "o2", "o1"} {
		if err := store.WithinTx(context.Background(), func(ctx context.Context) error {
			return rec.Append(ctx, Entry{Action: ActionOrgUpdate, EntityID: org, OrgID: org})
		}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := rec.List(context.Background(), auditdomain.Filter{OrgID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Errorf("List = %+v", got)
	}
}

type staticRoles map[string]rbac.MembershipRole

func (s staticRoles) ApprovedRole(_ context.Context, orgID, userID string) (rbac.MembershipRole, bool, error) {
	r, ok := s[orgID+"/"+userID]
	return r, ok, nil
}

func TestRecorder_ListFor(t *testing.T) {
	store := memstore.New()
	rec := NewRecorder(store.Audit(), nil, nil)
	for _, org := range []string{"o1", "o2"} {
		if err := store.WithinTx(context.Background(), func(ctx context.Context) error {
			return rec.Append(ctx, Entry{Action: ActionOrgUpdate, EntityID: org, OrgID: org})
		}); err != nil {
			t.Fatal(err)
		}
	}
	roles := staticRoles{"o1/dir": rbac.MemberDirector, "o1/agent": rbac.MemberAgent}
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   string
		role    rbac.GlobalRole
		org     string
		want    int
		wantErr error
	}{
		{"admin all orgs", "root", rbac.GlobalAdmin, "", 2, nil},
		{"director all orgs", "dir", rbac.GlobalDirector, "", 0, apperr.ErrForbidden},
		{"director own org", "dir", rbac.GlobalViewer, "o1", 1, nil},
		{"director other org", "dir", rbac.GlobalViewer, "o2", 0, apperr.ErrForbidden},
		{"agent own org", "agent", rbac.GlobalViewer, "o1", 0, apperr.ErrForbidden},
		{"admin one org", "root", rbac.GlobalAdmin, "o2", 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rec.ListFor(ctx, roles, tt.actor, string(tt.role), auditdomain.Filter{OrgID: tt.org})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || len(got) != tt.want {
				t.Fatalf("ListFor = %d entries, %v; want %d", len(got), err, tt.want)
			}
		})
	}
}

func TestEntityTypeFor(t *testing.T) {
	tests := map[string]string{
		ActionUserLogin:   EntityUser,
		ActionOrgLinkUser: EntityOrganization,
		ActionTokenReuse:  EntitySession,
		"nodot":           "",
		"device.add":      "",
	}
	for action, want := range tests {
		if got := EntityTypeFor(action); got != want {
			t.Errorf("EntityTypeFor(%q) = %q, want %q", action, got, want)
		}
	}
}
