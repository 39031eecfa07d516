package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEntry is a persisted administrative event
type AuditEntry struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	EventID    string     `json:"event_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	EventType  string     `json:"event_type" gorm:"type:varchar(100);not null;index"`
	ActorID    *uuid.UUID `json:"actor_id" gorm:"type:uuid;index"`
	TenantID   *uuid.UUID `json:"tenant_id" gorm:"type:uuid;index"`
	SubjectID  string     `json:"subject_id" gorm:"type:varchar(64)"`
	Payload    string     `json:"payload" gorm:"type:text"`
	OccurredAt time.Time  `json:"occurred_at" gorm:"index"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}

func (e *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// FailedEventStatus tracks redelivery progress of an event that could not be published
type FailedEventStatus string

const (
	FailedEventPending           FailedEventStatus = "pending"
	FailedEventResolved          FailedEventStatus = "resolved"
	FailedEventPermanentlyFailed FailedEventStatus = "permanently_failed"
)

// FailedEvent is an event the producer could not hand to Kafka; the retry
// consumer redelivers it with exponential backoff.
type FailedEvent struct {
	ID           uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	EventID      string            `json:"event_id" gorm:"type:varchar(64);not null;index"`
	EventType    string            `json:"event_type" gorm:"type:varchar(100);not null"`
	TenantID     *uuid.UUID        `json:"tenant_id,omitempty" gorm:"type:uuid"`
	Body         []byte            `json:"-" gorm:"not null"`
	ErrorMessage string            `json:"error_message" gorm:"type:text;not null"`
	RetryCount   int               `json:"retry_count" gorm:"default:0"`
	Status       FailedEventStatus `json:"status" gorm:"type:varchar(32);default:'pending';index"`
	NextRetryAt  *time.Time        `json:"next_retry_at,omitempty" gorm:"index"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
}

func (FailedEvent) TableName() string {
	return "failed_events"
}

func (e *FailedEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AllModels lists every model managed by migrations
func AllModels() []interface{} {
	return []interface{}{
		&Tenant{},
		&Ability{},
		&Role{},
		&User{},
		&AuditEntry{},
		&FailedEvent{},
	}
}
