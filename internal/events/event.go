// Package events publishes identity domain events after the mutation that caused them commits.
package events

import (
	"time"

	"identity-service/backend/internal/platform/ids"
)

// Subjects.
const (
	SubjectUserRegistered = "identity.user.registered"
	SubjectOrgCreated     = "identity.org.created"
	SubjectOrgUpdated     = "identity.org.updated"
	subjectAuditPrefix    = "identity.audit."
)

// Event is one envelope. Payload never carries password hashes, confirmation codes or tokens.
type Event struct {
	ID         string         `json:"id" msgpack:"id"`
	Subject    string         `json:"subject" msgpack:"subject"`
	OccurredAt time.Time      `json:"occurred_at" msgpack:"occurred_at"`
	Payload    map[string]any `json:"payload" msgpack:"payload"`
}

func newEvent(subject string, at time.Time, payload map[string]any) Event {
	return Event{ID: ids.NewEventID(), Subject: subject, OccurredAt: at.UTC(), Payload: payload}
}

// UserRegistered is published after a user row is created.
func UserRegistered(userID, email string, at time.Time) Event {
	return newEvent(SubjectUserRegistered, at, map[string]any{
		"user_id": userID,
		"email":   email,
	})
}

// OrgCreated is published after an organization is created.
func OrgCreated(orgID, name string, at time.Time) Event {
	return newEvent(SubjectOrgCreated, at, map[string]any{
		"org_id": orgID,
		"name":   name,
	})
}

// OrgUpdated is published after an organization changes; changed lists the field names.
func OrgUpdated(orgID string, changed []string, at time.Time) Event {
	return newEvent(SubjectOrgUpdated, at, map[string]any{
		"org_id":         orgID,
		"changed_fields": changed,
	})
}

// AuditRecorded mirrors a committed audit entry on identity.audit.<action>.
func AuditRecorded(action, entityType, entityID, actorID, orgID string, at time.Time) Event {
	p := map[string]any{
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	if actorID != "" {
		p["actor_id"] = actorID
	}
	if orgID != "" {
		p["org_id"] = orgID
	}
	return newEvent(subjectAuditPrefix+action, at, p)
}
