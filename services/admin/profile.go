package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/storage"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// ProfileRequest updates the signed-in user's name
type ProfileRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// ChangePasswordRequest represents the change password request
type ChangePasswordRequest struct {
	CurrentPassword      string `json:"current_password" binding:"required"`
	Password             string `json:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required,eqfield=Password"`
}

// DeactivateRequest confirms account deactivation with the password
type DeactivateRequest struct {
	Password string `json:"password" binding:"required"`
}

func handleGetProfile(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.Store.Users.Self(c.Request.Context(), middleware.GetActor(c))
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "Profile retrieved successfully", resources.NewUser(user, s.Objects))
	}
}

func handleUpdateProfile(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProfileRequest
		if !utils.Bind(c, &req) {
			return
		}

		actor := middleware.GetActor(c)
		user, err := s.Store.Users.UpdateProfile(c.Request.Context(), actor, req.Name)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.UserUpdated, actor, user.TenantID, user.ID.String(), gin.H{"name_changed": true}))
		utils.OKResponse(c, "Profile updated successfully", resources.NewUser(user, s.Objects))
	}
}

// checkPassword verifies the actor's current password. A mismatch is
// reported as a validation error on field.
func (s *Server) checkPassword(c *gin.Context, field, password string) bool {
	user, err := s.Store.Users.Self(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		utils.HandleError(c, err)
		return false
	}
	if !s.Hasher.Check(user.Password, password) {
		utils.HandleError(c, apperr.Invalid(field, "The password is incorrect."))
		return false
	}
	return true
}

func handleChangePassword(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChangePasswordRequest
		if !utils.Bind(c, &req) {
			return
		}
		if !s.checkPassword(c, "current_password", req.CurrentPassword) {
			return
		}

		hash, err := s.Hasher.Hash(req.Password)
		if err != nil {
			utils.HandleError(c, apperr.Internal("failed to hash password", err))
			return
		}
		actor := middleware.GetActor(c)
		if err := s.Store.Users.ChangePassword(c.Request.Context(), actor, hash); err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.UserUpdated, actor, actor.Tenant.Ptr(), actor.UserID.String(), gin.H{"password_changed": true}))
		utils.OKResponse(c, "Password updated successfully", nil)
	}
}

// handleDeactivate soft-deletes the signed-in user and ends every session
func handleDeactivate(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DeactivateRequest
		if !utils.Bind(c, &req) {
			return
		}
		if !s.checkPassword(c, "password", req.Password) {
			return
		}

		ctx := c.Request.Context()
		actor := middleware.GetActor(c)
		if err := s.Store.Users.Deactivate(ctx, actor); err != nil {
			utils.HandleError(c, err)
			return
		}
		if err := s.Sessions.RevokeAllForUser(ctx, actor.UserID); err != nil {
			middleware.Logger(c).WithError(err).Warn("Failed to revoke sessions of deactivated user")
		}

		s.Emit(c, events.New(events.UserDeactivated, actor, actor.Tenant.Ptr(), actor.UserID.String(), nil))
		utils.OKResponse(c, "Account deactivated", nil)
	}
}

// handleUploadAvatar stores a new avatar and removes the previous object
func handleUploadAvatar(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Objects == nil {
			utils.ServiceUnavailableResponse(c, "Avatar storage is unavailable")
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxAvatarBytes+1<<20)
		file, err := c.FormFile("avatar")
		if err != nil {
			utils.HandleError(c, apperr.Invalid("avatar", "The avatar field is required."))
			return
		}
		if file.Size > storage.MaxAvatarBytes {
			utils.HandleError(c, apperr.Invalid("avatar", "The avatar may not be greater than 2048 kilobytes."))
			return
		}
		body, err := file.Open()
		if err != nil {
			utils.HandleError(c, apperr.Internal("failed to open upload", err))
			return
		}
		defer body.Close()

		ctx := c.Request.Context()
		actor := middleware.GetActor(c)
		previous, err := s.Store.Users.Self(ctx, actor)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		key, err := storage.UploadAvatar(ctx, s.Objects, actor.UserID, body)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		user, err := s.Store.Users.SetAvatar(ctx, actor, &key)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		s.removeAvatar(c, previous.Avatar)

		utils.OKResponse(c, "Avatar updated successfully", resources.NewUser(user, s.Objects))
	}
}

func handleDeleteAvatar(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		actor := middleware.GetActor(c)
		previous, err := s.Store.Users.Self(ctx, actor)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		user, err := s.Store.Users.SetAvatar(ctx, actor, nil)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		s.removeAvatar(c, previous.Avatar)

		utils.OKResponse(c, "Avatar removed successfully", resources.NewUser(user, s.Objects))
	}
}

// removeAvatar deletes a stored avatar object. Provider URLs are not ours to
// delete, and a failure only leaves an orphaned object behind.
func (s *Server) removeAvatar(c *gin.Context, avatar *string) {
	if s.Objects == nil || avatar == nil || *avatar == "" || storage.IsExternal(*avatar) {
		return
	}
	if err := s.Objects.Delete(c.Request.Context(), *avatar); err != nil {
		middleware.Logger(c).WithError(err).WithField("key", *avatar).Warn("Failed to delete previous avatar")
	}
}
