package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// UserQuery filters the user listing. TenantID only narrows the listing of
// actors who see every tenant.
type UserQuery struct {
	ListQuery
	TenantID string `form:"tenant_id" json:"tenant_id,omitempty" binding:"omitempty,uuid"`
}

// CreateUserRequest represents the create user request
type CreateUserRequest struct {
	Name     string  `json:"name" binding:"required,max=255"`
	Email    string  `json:"email" binding:"required,email,max=255"`
	Password string  `json:"password" binding:"required,min=8"`
	TenantID *string `json:"tenant_id" binding:"omitempty,uuid"`
	Role     string  `json:"role" binding:"omitempty,oneof=developer admin staff"`
}

// UpdateUserRequest represents the update user request. Omitted fields are
// left unchanged.
type UpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=255"`
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
	Password *string `json:"password" binding:"omitempty,min=8"`
	Role     *string `json:"role" binding:"omitempty,oneof=developer admin staff"`
}

// AssignRoleRequest represents the assign role request
type AssignRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=developer admin staff"`
}

// UserOptions feeds the pickers of the user forms
type UserOptions struct {
	Tenants     []resources.TenantRef `json:"tenants"`
	Roles       []authz.RoleName      `json:"roles"`
	IsDeveloper bool                  `json:"is_developer"`
}

// UserList is a page of users with the listing context
type UserList struct {
	resources.Page[resources.User]
	Filters     UserQuery   `json:"filters"`
	Options     UserOptions `json:"options"`
	Permissions Permissions `json:"permissions"`
}

func parseOptionalID(raw *string) *uuid.UUID {
	if raw == nil || *raw == "" {
		return nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil
	}
	return &id
}

// handleListUsers lists users in the actor's scope together with the
// options and permissions the admin UI needs
func handleListUsers(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q UserQuery
		if !bindList(c, &q) {
			return
		}

		ctx := c.Request.Context()
		actor := middleware.GetActor(c)
		page, err := s.Store.Users.Paginate(ctx, actor, store.UserFilter{
			PageRequest: q.PageRequest(),
			TenantID:    parseOptionalID(&q.TenantID),
		})
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		developer := s.Authz.IsGlobal(actor)
		options := UserOptions{
			Tenants:     []resources.TenantRef{},
			Roles:       s.Authz.AvailableRolesToAssign(actor),
			IsDeveloper: developer,
		}
		if developer {
			tenants, err := s.Store.Tenants.Options(ctx, actor)
			if err != nil {
				utils.HandleError(c, err)
				return
			}
			for _, t := range tenants {
				options.Tenants = append(options.Tenants, resources.TenantRef{ID: t.ID, Name: t.Name})
			}
		} else {
			q.TenantID = ""
		}

		utils.OKResponse(c, "Users retrieved successfully", UserList{
			Page:    resources.MapPage(page, resources.UserRenderer(s.Objects)),
			Filters: q,
			Options: options,
			Permissions: Permissions{
				CanCreate: s.Authz.Can(actor, authz.CreateTenantUsers),
				CanUpdate: s.Authz.Can(actor, authz.UpdateTenantUsers),
				CanDelete: s.Authz.Can(actor, authz.DeleteTenantUsers),
			},
		})
	}
}

// handleCreateUser creates a user. Actors confined to a tenant create into
// their own tenant, and the role is resolved by the assignment policy.
func handleCreateUser(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if !utils.Bind(c, &req) {
			return
		}

		hash, err := s.Hasher.Hash(req.Password)
		if err != nil {
			utils.HandleError(c, apperr.Internal("failed to hash password", err))
			return
		}

		actor := middleware.GetActor(c)
		user, err := s.Store.Users.Create(c.Request.Context(), actor, store.CreateUserInput{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hash,
			TenantID:     parseOptionalID(req.TenantID),
			Role:         authz.RoleName(req.Role),
		})
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.UserCreated, actor, user.TenantID, user.ID.String(), gin.H{
			"email":          user.Email,
			"requested_role": req.Role,
			"role":           user.PrimaryRole(),
		}))
		utils.CreatedResponse(c, "User created successfully", resources.NewUser(user, s.Objects))
	}
}

// handleGetUser returns one user inside the actor's scope
func handleGetUser(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "User")
		if !ok {
			return
		}

		user, err := s.Store.Users.Find(c.Request.Context(), middleware.GetActor(c), id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "User retrieved successfully", resources.NewUser(user, s.Objects))
	}
}

// handleUpdateUser edits a user; a role change follows the assignment policy
func handleUpdateUser(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "User")
		if !ok {
			return
		}
		var req UpdateUserRequest
		if !utils.Bind(c, &req) {
			return
		}

		in := store.UpdateUserInput{Name: req.Name, Email: req.Email}
		if req.Password != nil {
			hash, err := s.Hasher.Hash(*req.Password)
			if err != nil {
				utils.HandleError(c, apperr.Internal("failed to hash password", err))
				return
			}
			in.PasswordHash = &hash
		}
		if req.Role != nil {
			role := authz.RoleName(*req.Role)
			in.Role = &role
		}

		actor := middleware.GetActor(c)
		user, err := s.Store.Users.Update(c.Request.Context(), actor, id, in)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.UserUpdated, actor, user.TenantID, user.ID.String(), gin.H{
			"name_changed":     req.Name != nil,
			"email_changed":    req.Email != nil,
			"password_changed": req.Password != nil,
		}))
		if req.Role != nil {
			s.publishRoleAssigned(c, actor, user, *req.Role)
		}
		utils.OKResponse(c, "User updated successfully", resources.NewUser(user, s.Objects))
	}
}

// handleAssignRole gives a user exactly one role
func handleAssignRole(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "User")
		if !ok {
			return
		}
		var req AssignRoleRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		user, err := s.Store.Users.AssignRole(c.Request.Context(), actor, id, authz.RoleName(req.Role))
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.publishRoleAssigned(c, actor, user, req.Role)
		utils.OKResponse(c, "Role assigned successfully", resources.NewUser(user, s.Objects))
	}
}

// handleDeleteUser soft-deletes a user and ends their sessions
func handleDeleteUser(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "User")
		if !ok {
			return
		}

		ctx := c.Request.Context()
		actor := middleware.GetActor(c)
		user, err := s.Store.Users.Delete(ctx, actor, id)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		if err := s.Sessions.RevokeAllForUser(ctx, user.ID); err != nil {
			middleware.Logger(c).WithError(err).Warn("Failed to revoke sessions of deleted user")
		}

		s.Emit(c, events.New(events.UserDeleted, actor, user.TenantID, user.ID.String(), gin.H{"email": user.Email}))
		utils.OKResponse(c, "User deleted successfully", nil)
	}
}

// publishRoleAssigned records both the requested and the granted role, so
// a clamped assignment is visible in the audit log
func (s *Server) publishRoleAssigned(c *gin.Context, actor *authz.Actor, user *models.User, requested string) {
	s.Emit(c, events.New(events.UserRoleAssigned, actor, user.TenantID, user.ID.String(), gin.H{
		"requested_role": requested,
		"role":           user.PrimaryRole(),
	}))
}
