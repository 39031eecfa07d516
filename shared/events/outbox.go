package events

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// Outbox stores undelivered events in the failed_events table
type Outbox struct {
	db         *gorm.DB
	firstRetry time.Duration
	now        func() time.Time
}

// NewOutbox schedules the first redelivery one minute after the failure
func NewOutbox(db *gorm.DB) *Outbox {
	return &Outbox{db: db, firstRetry: time.Minute, now: time.Now}
}

// Store implements FailureSink
func (o *Outbox) Store(ctx context.Context, event Event, body []byte, cause error) error {
	next := o.now().Add(o.firstRetry)
	failed := &models.FailedEvent{
		EventID:      event.ID,
		EventType:    event.Type,
		TenantID:     event.TenantID,
		Body:         body,
		ErrorMessage: cause.Error(),
		Status:       models.FailedEventPending,
		NextRetryAt:  &next,
	}
	if err := o.db.WithContext(ctx).Create(failed).Error; err != nil {
		return fmt.Errorf("failed to store failed event: %w", err)
	}
	return nil
}
