package main

import (
	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// PermissionList is a page of the ability catalog
type PermissionList struct {
	resources.Page[resources.Ability]
	Filters     ListQuery   `json:"filters"`
	Permissions Permissions `json:"permissions"`
}

func handleListPermissions(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListQuery
		if !bindList(c, &q) {
			return
		}

		actor := middleware.GetActor(c)
		page, err := s.Store.Abilities.Paginate(c.Request.Context(), actor, q.PageRequest())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		utils.OKResponse(c, "Permissions retrieved successfully", PermissionList{
			Page:    resources.MapPage(page, resources.NewAbility),
			Filters: q,
			Permissions: Permissions{
				CanCreate: s.Authz.Can(actor, authz.CreatePermissions),
				CanUpdate: s.Authz.Can(actor, authz.UpdatePermissions),
				CanDelete: s.Authz.Can(actor, authz.DeletePermissions),
			},
		})
	}
}

func handleCreatePermission(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CatalogRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		ability, created, err := s.Store.Abilities.FirstOrCreate(c.Request.Context(), actor, req.input())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		if !created {
			utils.OKResponse(c, "Permission already exists", resources.NewAbility(ability))
			return
		}
		s.Emit(c, events.New(events.AbilityCreated, actor, nil, ability.ID.String(), gin.H{"name": ability.Name}))
		utils.CreatedResponse(c, "Permission created successfully", resources.NewAbility(ability))
	}
}

func handleGetPermission(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Permission")
		if !ok {
			return
		}

		ability, err := s.Store.Abilities.Find(c.Request.Context(), middleware.GetActor(c), id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "Permission retrieved successfully", resources.NewAbility(ability))
	}
}

func handleUpdatePermission(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Permission")
		if !ok {
			return
		}
		var req CatalogRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		ability, err := s.Store.Abilities.Update(c.Request.Context(), actor, id, req.input())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.AbilityUpdated, actor, nil, ability.ID.String(), gin.H{"name": ability.Name}))
		utils.OKResponse(c, "Permission updated successfully", resources.NewAbility(ability))
	}
}

func handleDeletePermission(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Permission")
		if !ok {
			return
		}

		actor := middleware.GetActor(c)
		ability, err := s.Store.Abilities.Delete(c.Request.Context(), actor, id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.AbilityDeleted, actor, nil, ability.ID.String(), gin.H{"name": ability.Name}))
		utils.OKResponse(c, "Permission deleted successfully", nil)
	}
}
