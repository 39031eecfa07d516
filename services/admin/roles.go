package main

import (
	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// RoleAbilitiesRequest replaces every ability granted to a role
type RoleAbilitiesRequest struct {
	Abilities []string `json:"abilities" binding:"required,dive,required"`
}

// GrantAbilityRequest adds one ability to a role
type GrantAbilityRequest struct {
	Ability string `json:"ability" binding:"required"`
}

// RoleList is a page of roles with the actions the actor may take
type RoleList struct {
	resources.Page[resources.Role]
	Filters     ListQuery   `json:"filters"`
	Permissions Permissions `json:"permissions"`
}

func abilityNames(abilities []models.Ability) []string {
	names := make([]string, 0, len(abilities))
	for _, a := range abilities {
		names = append(names, a.Name)
	}
	return names
}

func handleListRoles(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListQuery
		if !bindList(c, &q) {
			return
		}

		actor := middleware.GetActor(c)
		page, err := s.Store.Roles.Paginate(c.Request.Context(), actor, q.PageRequest())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		utils.OKResponse(c, "Roles retrieved successfully", RoleList{
			Page:    resources.MapPage(page, resources.NewRole),
			Filters: q,
			Permissions: Permissions{
				CanCreate: s.Authz.Can(actor, authz.CreateRoles),
				CanUpdate: s.Authz.Can(actor, authz.UpdateRoles),
				CanDelete: s.Authz.Can(actor, authz.DeleteRoles),
			},
		})
	}
}

// handleCreateRole returns the role with the requested name, creating it
// when it does not exist yet
func handleCreateRole(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CatalogRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		role, created, err := s.Store.Roles.FirstOrCreate(c.Request.Context(), actor, req.input())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		if !created {
			utils.OKResponse(c, "Role already exists", resources.NewRole(role))
			return
		}
		s.Emit(c, events.New(events.RoleCreated, actor, nil, role.ID.String(), gin.H{"name": role.Name}))
		utils.CreatedResponse(c, "Role created successfully", resources.NewRole(role))
	}
}

func handleGetRole(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}

		role, err := s.Store.Roles.Find(c.Request.Context(), middleware.GetActor(c), id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "Role retrieved successfully", resources.NewRole(role))
	}
}

func handleUpdateRole(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}
		var req CatalogRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		role, err := s.Store.Roles.Update(c.Request.Context(), actor, id, req.input())
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.RoleUpdated, actor, nil, role.ID.String(), gin.H{"name": role.Name}))
		utils.OKResponse(c, "Role updated successfully", resources.NewRole(role))
	}
}

func handleDeleteRole(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}

		actor := middleware.GetActor(c)
		role, err := s.Store.Roles.Delete(c.Request.Context(), actor, id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.RoleDeleted, actor, nil, role.ID.String(), gin.H{"name": role.Name}))
		utils.OKResponse(c, "Role deleted successfully", nil)
	}
}

// handleGetRoleAbilities lists the abilities granted to a role
func handleGetRoleAbilities(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}

		abilities, err := s.Store.Roles.Abilities(c.Request.Context(), middleware.GetActor(c), id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		out := make([]resources.Ability, 0, len(abilities))
		for i := range abilities {
			out = append(out, resources.NewAbility(&abilities[i]))
		}
		utils.OKResponse(c, "Role abilities retrieved successfully", out)
	}
}

// handleSetRoleAbilities replaces the role's grant set
func handleSetRoleAbilities(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}
		var req RoleAbilitiesRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		role, err := s.Store.Roles.SetAbilities(c.Request.Context(), actor, id, req.Abilities)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.publishGrants(c, actor, role, gin.H{"abilities": abilityNames(role.Abilities)})
		utils.OKResponse(c, "Role abilities updated successfully", resources.NewRole(role))
	}
}

func handleGrantAbility(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}
		var req GrantAbilityRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		role, err := s.Store.Roles.Grant(c.Request.Context(), actor, id, req.Ability)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.publishGrants(c, actor, role, gin.H{"granted": req.Ability})
		utils.OKResponse(c, "Ability granted successfully", resources.NewRole(role))
	}
}

func handleRevokeAbility(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Role")
		if !ok {
			return
		}

		actor := middleware.GetActor(c)
		ability := c.Param("ability")
		role, err := s.Store.Roles.Revoke(c.Request.Context(), actor, id, ability)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.publishGrants(c, actor, role, gin.H{"revoked": ability})
		utils.OKResponse(c, "Ability revoked successfully", resources.NewRole(role))
	}
}

func (s *Server) publishGrants(c *gin.Context, actor *authz.Actor, role *models.Role, payload gin.H) {
	payload["role"] = role.Name
	s.Emit(c, events.New(events.RoleAbilitiesChanged, actor, nil, role.ID.String(), payload))
}
