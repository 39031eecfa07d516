// Package events carries administrative events from the services that
// cause them to the audit log, through Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// Event types published by the auth and admin services
const (
	UserRegistered       = "user.registered"
	UserLoggedIn         = "user.logged_in"
	UserCreated          = "user.created"
	UserUpdated          = "user.updated"
	UserRoleAssigned     = "user.role_assigned"
	UserDeleted          = "user.deleted"
	UserDeactivated      = "user.deactivated"
	TenantCreated        = "tenant.created"
	TenantUpdated        = "tenant.updated"
	TenantDeleted        = "tenant.deleted"
	RoleCreated          = "role.created"
	RoleUpdated          = "role.updated"
	RoleDeleted          = "role.deleted"
	RoleAbilitiesChanged = "role.abilities_changed"
	AbilityCreated       = "ability.created"
	AbilityUpdated       = "ability.updated"
	AbilityDeleted       = "ability.deleted"
)

// Event is one administrative action
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	TenantID   *uuid.UUID      `json:"tenant_id,omitempty"`
	SubjectID  string          `json:"subject_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New builds an event caused by actor on the subject in tenantID. A payload
// that cannot be marshalled is dropped rather than failing the action.
func New(eventType string, actor *authz.Actor, tenantID *uuid.UUID, subjectID string, payload interface{}) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		SubjectID:  subjectID,
		OccurredAt: time.Now().UTC(),
	}
	if actor != nil {
		id := actor.UserID
		e.ActorID = &id
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}

// Key partitions events by tenant so one tenant's events stay ordered
func (e Event) Key() string {
	if e.TenantID == nil {
		return "global"
	}
	return e.TenantID.String()
}

// AuditEntry converts the event into its persisted form
func (e Event) AuditEntry() *models.AuditEntry {
	return &models.AuditEntry{
		EventID:    e.ID,
		EventType:  e.Type,
		ActorID:    e.ActorID,
		TenantID:   e.TenantID,
		SubjectID:  e.SubjectID,
		Payload:    string(e.Payload),
		OccurredAt: e.OccurredAt,
	}
}

// Publisher hands events to the broker. Publish must not block the caller
// on broker availability.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events; used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Recorder receives one call per publish attempt
type Recorder interface {
	RecordPublish(eventType string, ok bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordPublish(string, bool) {}
