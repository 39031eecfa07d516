package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// Server carries the audit service dependencies
type Server struct {
	*app.Core
}

// AuditQuery filters the audit log; q matches the event type prefix
type AuditQuery struct {
	Search  string `form:"q"`
	Page    int    `form:"page"`
	PerPage int    `form:"per_page"`
}

// AuditEntry is the audit log resource
type AuditEntry struct {
	ID         uuid.UUID       `json:"id"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	ActorID    *uuid.UUID      `json:"actor_id"`
	TenantID   *uuid.UUID      `json:"tenant_id"`
	SubjectID  string          `json:"subject_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func newAuditEntry(e *models.AuditEntry) AuditEntry {
	entry := AuditEntry{
		ID:         e.ID,
		EventID:    e.EventID,
		EventType:  e.EventType,
		ActorID:    e.ActorID,
		TenantID:   e.TenantID,
		SubjectID:  e.SubjectID,
		OccurredAt: e.OccurredAt,
	}
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		entry.Payload = json.RawMessage(e.Payload)
	}
	return entry
}

func setupRouter(s *Server) *gin.Engine {
	router := s.Router()

	protected := router.Group("")
	protected.Use(s.Auth.RequireAuth())
	protected.GET("/audit",
		middleware.RequireAbility(s.Authz, authz.ReadAllTenants, authz.ReadTenantData),
		handleListAudit(s),
	)
	return router
}

func handleListAudit(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q AuditQuery
		if !utils.BindQuery(c, &q) {
			return
		}
		req := store.PageRequest{Page: q.Page, PerPage: q.PerPage, Search: q.Search}
		if err := req.Validate(); err != nil {
			utils.HandleError(c, err)
			return
		}

		page, err := s.Store.Audit.Paginate(c.Request.Context(), middleware.GetActor(c), req)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "Audit entries retrieved successfully", resources.MapPage(page, newAuditEntry))
	}
}

// recordEvent persists one consumed event. Redelivered events are skipped
// by the store, so the consumer may safely replay uncommitted offsets.
func (s *Server) recordEvent(ctx context.Context, event events.Event) error {
	created, err := s.Store.Audit.Record(ctx, event.AuditEntry())
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})
	if !created {
		log.Debug("Duplicate event ignored")
		return nil
	}
	log.Info("Audit entry recorded")
	return nil
}
