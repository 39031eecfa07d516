package main

import (
	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// TenantRequest represents the create and update tenant request
type TenantRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// TenantList is a page of tenants with the listing context
type TenantList struct {
	resources.Page[resources.Tenant]
	Filters     ListQuery   `json:"filters"`
	Permissions Permissions `json:"permissions"`
}

// handleListTenants lists the tenants visible to the actor
func handleListTenants(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListQuery
		if !bindList(c, &q) {
			return
		}

		actor := middleware.GetActor(c)
		page, err := s.Store.Tenants.Paginate(c.Request.Context(), actor, q.PageRequest())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		utils.OKResponse(c, "Tenants retrieved successfully", TenantList{
			Page:    resources.MapPage(page, resources.NewTenant),
			Filters: q,
			Permissions: Permissions{
				CanCreate: s.Authz.CanAny(actor, authz.ActionCreate),
				CanUpdate: s.Authz.CanAny(actor, authz.ActionUpdate),
				CanDelete: s.Authz.CanAny(actor, authz.ActionDelete),
			},
		})
	}
}

// handleCreateTenant creates a tenant; a taken name is rejected
func handleCreateTenant(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TenantRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		tenant, err := s.Store.Tenants.Create(c.Request.Context(), actor, req.Name)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.TenantCreated, actor, &tenant.ID, tenant.ID.String(), gin.H{"name": tenant.Name}))
		utils.CreatedResponse(c, "Tenant created successfully", resources.NewTenant(tenant))
	}
}

// handleGetTenant returns one tenant inside the actor's scope
func handleGetTenant(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Tenant")
		if !ok {
			return
		}

		tenant, err := s.Store.Tenants.Find(c.Request.Context(), middleware.GetActor(c), id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "Tenant retrieved successfully", resources.NewTenant(tenant))
	}
}

// handleUpdateTenant renames a tenant
func handleUpdateTenant(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Tenant")
		if !ok {
			return
		}
		var req TenantRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		tenant, err := s.Store.Tenants.Update(c.Request.Context(), actor, id, req.Name)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.TenantUpdated, actor, &tenant.ID, tenant.ID.String(), gin.H{"name": tenant.Name}))
		utils.OKResponse(c, "Tenant updated successfully", resources.NewTenant(tenant))
	}
}

// handleDeleteTenant deletes a tenant without users
func handleDeleteTenant(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Tenant")
		if !ok {
			return
		}

		actor := middleware.GetActor(c)
		tenant, err := s.Store.Tenants.Delete(c.Request.Context(), actor, id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.TenantDeleted, actor, &tenant.ID, tenant.ID.String(), gin.H{"name": tenant.Name}))
		utils.OKResponse(c, "Tenant deleted successfully", nil)
	}
}
