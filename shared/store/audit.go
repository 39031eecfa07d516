package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// AuditStore persists and lists administrative events
type AuditStore struct {
	db    *gorm.DB
	authz *authz.Service
}

// Record stores an entry once; redelivery of the same event id is a no-op
func (s *AuditStore) Record(ctx context.Context, entry *models.AuditEntry) (bool, error) {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.AuditEntry{}).Where("event_id = ?", entry.EventID).Count(&count).Error; err != nil {
		return false, apperr.Internal("failed to check audit entry", err)
	}
	if count > 0 {
		return false, nil
	}
	if err := db.Create(entry).Error; err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, apperr.Internal("failed to record audit entry", err)
	}
	return true, nil
}

// Paginate lists entries in the actor's scope, newest first. Search
// matches the event type prefix.
func (s *AuditStore) Paginate(ctx context.Context, actor *authz.Actor, req PageRequest) (*Page[models.AuditEntry], error) {
	if !s.authz.CanAny(actor, authz.ActionRead) {
		return nil, apperr.Unauthorized("")
	}
	build := func() *gorm.DB {
		q := s.authz.Scope(actor, authz.AuditEntries, s.db.WithContext(ctx).Model(&models.AuditEntry{}))
		if search := strings.TrimSpace(req.Search); search != "" {
			q = q.Where("LOWER(audit_entries.event_type) LIKE ?", strings.ToLower(search)+"%")
		}
		return q
	}
	return paginate[models.AuditEntry](build, req, "audit_entries.occurred_at DESC, audit_entries.id ASC")
}
