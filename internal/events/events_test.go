package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"identity-service/backend/internal/db"
)

// recorder is an in-memory Publisher for tests.
type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
	done   chan struct{}
}

func newRecorder(expect int) *recorder {
	return &recorder{done: make(chan struct{}, expect)}
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func TestEventConstructors(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := UserRegistered("u1", "a@b.ru", at)
	if ev.Subject != SubjectUserRegistered || ev.ID == "" || !ev.OccurredAt.Equal(at) {
		t.Errorf("UserRegistered = %+v", ev)
	}
	if ev.Payload["user_id"] != "u1" || ev.Payload["email"] != "a@b.ru" {
		t.Errorf("payload = %v", ev.Payload)
	}
	if OrgUpdated("o1", []string{"name"}, at).Subject != SubjectOrgUpdated {
		t.Error("OrgUpdated subject")
	}
	audit := AuditRecorded("org.approve_user", "membership", "o1:u1", "u2", "o1", at)
	if audit.Subject != "identity.audit.org.approve_user" || audit.Payload["actor_id"] != "u2" {
		t.Errorf("AuditRecorded = %+v", audit)
	}
	if _, ok := AuditRecorded("user.login", "user", "u1", "", "", at).Payload["org_id"]; ok {
		t.Error("empty org id should be omitted")
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, err := CodecByName(name)
			if err != nil {
				t.Fatalf("CodecByName: %v", err)
			}
			in := OrgCreated("o1", "Acme", time.Now())
			data, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var out Event
			if err := c.Decode(data, &out); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.ID != in.ID || out.Subject != in.Subject || out.Payload["name"] != "Acme" {
				t.Errorf("decoded = %+v", out)
			}
			if !out.OccurredAt.Equal(in.OccurredAt) {
				t.Errorf("OccurredAt = %v, want %v", out.OccurredAt, in.OccurredAt)
			}
		})
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Error("CodecByName(xml): want error")
	}
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := newRecorder(1)
	bad := newRecorder(1)
	bad.err = errors.New("down")
	err := Fanout{ok, nil, bad}.Publish(context.Background(), OrgCreated("o1", "Acme", time.Now()))
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("Fanout err = %v", err)
	}
	if len(ok.events) != 1 {
		t.Error("healthy publisher should still receive the event")
	}
}

func TestObserved_ReportsOutcome(t *testing.T) {
	rec := newRecorder(2)
	rec.err = errors.New("down")
	var subjects []string
	var failures int
	p := Observed(rec, func(subject string, err error) {
		subjects = append(subjects, subject)
		if err != nil {
			failures++
		}
	})
	ev := OrgCreated("o1", "Acme", time.Now())
	if err := p.Publish(context.Background(), ev); err == nil {
		t.Fatal("Publish error should propagate")
	}
	if len(subjects) != 1 || subjects[0] != SubjectOrgCreated || failures != 1 {
		t.Errorf("observed subjects=%v failures=%d", subjects, failures)
	}
	if Observed(rec, nil) != Publisher(rec) {
		t.Error("Observed with nil observer should return the publisher unchanged")
	}
}

func TestPublishAfterCommit(t *testing.T) {
	rec := newRecorder(1)
	ctx, unit := db.StartUnit(context.Background(), nil)
	PublishAfterCommit(ctx, rec, OrgCreated("o1", "Acme", time.Now()))

	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	if len(rec.events) != 0 {
		t.Fatal("event published before commit")
	}
	rec.mu.Unlock()

	unit.Committed()
	rec.wait(t, 1)
}

func TestPublishAfterCommit_RolledBack(t *testing.T) {
	rec := newRecorder(1)
	ctx, _ := db.StartUnit(context.Background(), nil)
	PublishAfterCommit(ctx, rec, OrgCreated("o1", "Acme", time.Now()))
	// The unit is never committed.
	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Error("rolled-back unit published an event")
	}
}

type fakeConn struct {
	msgs    []*nats.Msg
	flushed int
	pubErr  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.msgs = append(f.msgs, m)
	return nil
}
func (f *fakeConn) FlushWithContext(context.Context) error { f.flushed++; return nil }
func (f *fakeConn) Drain() error { return nil }

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := &NATSPublisher{nc: conn, codec: MsgpackCodec{}}
	ev := UserRegistered("u1", "a@b.ru", time.Now())
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(conn.msgs) != 1 || conn.flushed != 1 {
		t.Fatalf("msgs=%d flushed=%d", len(conn.msgs), conn.flushed)
	}
	m := conn.msgs[0]
	if m.Subject != SubjectUserRegistered {
		t.Errorf("subject = %q", m.Subject)
	}
	if m.Header.Get(nats.MsgIdHdr) != ev.ID {
		t.Errorf("Nats-Msg-Id = %q, want %q", m.Header.Get(nats.MsgIdHdr), ev.ID)
	}
	if m.Header.Get("Content-Type") != "application/msgpack" {
		t.Errorf("Content-Type = %q", m.Header.Get("Content-Type"))
	}
	var decoded Event
	if err := (MsgpackCodec{}).Decode(m.Data, &decoded); err != nil || decoded.ID != ev.ID {
		t.Errorf("decoded = %+v, %v", decoded, err)
	}
}

func TestNATSPublisher_PublishError(t *testing.T) {
	p := &NATSPublisher{nc: &fakeConn{pubErr: nats.ErrConnectionClosed}, codec: JSONCodec{}}
	if err := p.Publish(context.Background(), OrgCreated("o1", "Acme", time.Now())); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("want ErrConnectionClosed, got %v", err)
	}
}

func userCreds(t *testing.T, expires time.Time) (seed, token string) {
	t.Helper()
	user, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	account, err := nkeys.CreateAccount()
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pub, _ := user.PublicKey()
	rawSeed, _ := user.Seed()
	claims := natsjwt.NewUserClaims(pub)
	claims.Expires = expires.Unix()
	claims.Permissions.Pub.Allow.Add("identity.>")
	token, err = claims.Encode(account)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return string(rawSeed), token
}

func TestCredentialOptions(t *testing.T) {
	now := time.Now()
	seed, token := userCreds(t, now.Add(time.Hour))

	if opts, err := credentialOptions("", "", now); err != nil || opts != nil {
		t.Errorf("no creds = %v, %v", opts, err)
	}
	if opts, err := credentialOptions(seed, "", now); err != nil || len(opts) != 1 {
		t.Errorf("nkey only = %d opts, %v", len(opts), err)
	}
	if opts, err := credentialOptions(seed, token, now); err != nil || len(opts) != 1 {
		t.Errorf("seed+jwt = %d opts, %v", len(opts), err)
	}
	if _, err := credentialOptions("", token, now); err == nil {
		t.Error("jwt without seed: want error")
	}
	if _, err := credentialOptions("not-a-seed", "", now); err == nil {
		t.Error("bad seed: want error")
	}
	otherSeed, _ := userCreds(t, now.Add(time.Hour))
	if _, err := credentialOptions(otherSeed, token, now); err == nil {
		t.Error("mismatched jwt: want error")
	}
	if _, err := credentialOptions(seed, token, now.Add(2*time.Hour)); err == nil {
		t.Error("expired jwt: want error")
	}
}
