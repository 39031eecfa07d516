package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/storage"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// Server carries the admin service dependencies
type Server struct {
	*app.Core
	Hasher  *auth.PasswordHasher
	Objects storage.ObjectStore
}

func setupRouter(s *Server) *gin.Engine {
	router := s.Router()

	protected := router.Group("")
	protected.Use(s.Auth.RequireAuth())

	tenants := protected.Group("/tenants")
	{
		tenants.GET("", handleListTenants(s))
		tenants.POST("", handleCreateTenant(s))
		tenants.GET("/:id", handleGetTenant(s))
		tenants.PUT("/:id", handleUpdateTenant(s))
		tenants.DELETE("/:id", handleDeleteTenant(s))
	}

	users := protected.Group("/users")
	{
		users.GET("", handleListUsers(s))
		users.POST("", handleCreateUser(s))
		users.GET("/:id", handleGetUser(s))
		users.PUT("/:id", handleUpdateUser(s))
		users.PUT("/:id/role", handleAssignRole(s))
		users.DELETE("/:id", handleDeleteUser(s))
	}

	roles := protected.Group("/roles")
	{
		roles.GET("", handleListRoles(s))
		roles.POST("", handleCreateRole(s))
		roles.GET("/:id", handleGetRole(s))
		roles.PUT("/:id", handleUpdateRole(s))
		roles.DELETE("/:id", handleDeleteRole(s))
		roles.GET("/:id/abilities", handleGetRoleAbilities(s))
		roles.PUT("/:id/abilities", handleSetRoleAbilities(s))
		roles.POST("/:id/abilities", handleGrantAbility(s))
		roles.DELETE("/:id/abilities/:ability", handleRevokeAbility(s))
	}

	permissions := protected.Group("/permissions")
	{
		permissions.GET("", handleListPermissions(s))
		permissions.POST("", handleCreatePermission(s))
		permissions.GET("/:id", handleGetPermission(s))
		permissions.PUT("/:id", handleUpdatePermission(s))
		permissions.DELETE("/:id", handleDeletePermission(s))
	}

	profile := protected.Group("/profile")
	{
		profile.GET("", handleGetProfile(s))
		profile.PUT("", handleUpdateProfile(s))
		profile.PUT("/password", handleChangePassword(s))
		profile.POST("/deactivate", handleDeactivate(s))
		profile.POST("/avatar", handleUploadAvatar(s))
		profile.DELETE("/avatar", handleDeleteAvatar(s))
	}

	return router
}

// ListQuery is the common query string of every listing
type ListQuery struct {
	Search  string `form:"q" json:"q"`
	Page    int    `form:"page" json:"page"`
	PerPage int    `form:"per_page" json:"per_page"`
}

func (q ListQuery) PageRequest() store.PageRequest {
	return store.PageRequest{Page: q.Page, PerPage: q.PerPage, Search: q.Search}
}

// Permissions tells clients which actions to offer on a listing
type Permissions struct {
	CanCreate bool `json:"can_create"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

// CatalogRequest creates or edits a role or a permission
type CatalogRequest struct {
	Name  string  `json:"name" binding:"required,max=100"`
	Title *string `json:"title" binding:"omitempty,max=255"`
}

func (r CatalogRequest) input() store.CatalogInput {
	return store.CatalogInput{Name: r.Name, Title: r.Title}
}

type pageQuery interface {
	PageRequest() store.PageRequest
}

// bindList parses and validates a listing query into q, a pointer. It
// writes the error response itself and reports whether the handler may
// continue.
func bindList(c *gin.Context, q pageQuery) bool {
	if !utils.BindQuery(c, q) {
		return false
	}
	if err := q.PageRequest().Validate(); err != nil {
		utils.HandleError(c, err)
		return false
	}
	return true
}

// pathID parses the :id parameter. Malformed ids can never match a row, so
// they are reported as not found.
func pathID(c *gin.Context, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.NotFoundResponse(c, resource+" not found")
		return uuid.Nil, false
	}
	return id, true
}

