package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/storage"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// Server carries the auth service dependencies
type Server struct {
	*app.Core
	Hasher    *auth.PasswordHasher
	Objects   storage.ObjectStore
	Providers map[string]SocialProvider
}

func setupRouter(s *Server) *gin.Engine {
	router := s.Router()

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", handleRegister(s))
		authGroup.POST("/login", handleLogin(s))
		authGroup.GET("/social/:provider/redirect", handleSocialRedirect(s))
		authGroup.GET("/social/:provider/callback", handleSocialCallback(s))

		protected := authGroup.Group("")
		protected.Use(s.Auth.RequireAuth())
		protected.POST("/logout", handleLogout(s))
		protected.POST("/logout-all", handleLogoutAll(s))
		protected.GET("/me", handleMe(s))
		protected.DELETE("/social/:provider", handleSocialUnlink(s))
	}

	return router
}

// RegisterRequest represents the registration request
type RegisterRequest struct {
	Name                 string `json:"name" binding:"required,max=255"`
	Email                string `json:"email" binding:"required,email,max=255"`
	Password             string `json:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required,eqfield=Password"`
}

// LoginRequest represents the login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned by every endpoint that signs a user in
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int64          `json:"expires_in"`
	SessionID   string         `json:"session_id"`
	User        resources.User `json:"user"`
}

// MeResponse describes the signed-in user and what they may do
type MeResponse struct {
	User            resources.User   `json:"user"`
	Abilities       []authz.Ability  `json:"abilities"`
	AssignableRoles []authz.RoleName `json:"assignable_roles"`
	IsDeveloper     bool             `json:"is_developer"`
}

// handleRegister creates a user, a tenant named after them, and signs them in
func handleRegister(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if !utils.Bind(c, &req) {
			return
		}

		hash, err := s.Hasher.Hash(req.Password)
		if err != nil {
			utils.HandleError(c, apperr.Internal("failed to hash password", err))
			return
		}

		user, err := s.Store.Users.Register(c.Request.Context(), store.RegisterInput{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hash,
		})
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		resp, err := s.signIn(c.Request.Context(), user)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		actor := &authz.Actor{UserID: user.ID}
		s.Emit(c, events.New(events.UserRegistered, actor, user.TenantID, user.ID.String(), gin.H{"email": user.Email}))

		middleware.Logger(c).WithField("user_id", user.ID).Info("User registered")
		utils.CreatedResponse(c, "User registered successfully", resp)
	}
}

// handleLogin checks a password and opens a session
func handleLogin(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if !utils.Bind(c, &req) {
			return
		}

		user, err := s.Store.Users.FindByEmail(c.Request.Context(), req.Email)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			utils.HandleError(c, err)
			return
		}
		var ok bool
		if user != nil {
			ok = s.Hasher.Check(user.Password, req.Password)
		} else {
			ok = s.Hasher.Reject(req.Password)
		}
		if !ok {
			middleware.Logger(c).WithField("email", req.Email).Info("Failed login attempt")
			utils.UnauthorizedResponse(c, "Invalid credentials")
			return
		}

		resp, err := s.signIn(c.Request.Context(), user)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		s.Emit(c, events.New(events.UserLoggedIn, &authz.Actor{UserID: user.ID}, user.TenantID, user.ID.String(), nil))
		utils.OKResponse(c, "Login successful", resp)
	}
}

// handleLogout revokes the current session
func handleLogout(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Sessions.Revoke(c.Request.Context(), middleware.GetAccessToken(c)); err != nil {
			utils.HandleError(c, apperr.Internal("failed to revoke session", err))
			return
		}
		utils.OKResponse(c, "Logged out successfully", nil)
	}
}

// handleLogoutAll revokes every session of the current user
func handleLogoutAll(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.GetActor(c)
		if err := s.Sessions.RevokeAllForUser(c.Request.Context(), actor.UserID); err != nil {
			utils.HandleError(c, apperr.Internal("failed to revoke sessions", err))
			return
		}
		utils.OKResponse(c, "All sessions revoked", nil)
	}
}

// handleMe returns the current user with their abilities and assignable roles
func handleMe(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.GetActor(c)
		user, err := s.Store.Users.Self(c.Request.Context(), actor)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		utils.OKResponse(c, "Current user", MeResponse{
			User:            resources.NewUser(user, s.Objects),
			Abilities:       s.Authz.AbilitiesFor(actor).Sorted(),
			AssignableRoles: s.Authz.AvailableRolesToAssign(actor),
			IsDeveloper:     s.Authz.IsGlobal(actor),
		})
	}
}

// signIn issues a token for the user, stores its session and records the login
func (s *Server) signIn(ctx context.Context, user *models.User) (*LoginResponse, error) {
	token, claims, err := s.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, apperr.Internal("failed to issue token", err)
	}

	profile := models.UserProfile{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.PrimaryRole(),
		TenantID: user.TenantID,
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	session, err := s.Sessions.Create(ctx, token, profile, ttl)
	if err != nil {
		return nil, apperr.Internal("failed to create session", err)
	}

	now := time.Now()
	if err := s.Store.Users.TouchLogin(ctx, user.ID, now); err != nil {
		logrus.WithError(err).Warn("Failed to record login time")
	}
	user.LastLoginAt = &now

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		SessionID:   session.SessionID,
		User:        resources.NewUser(user, s.Objects),
	}, nil
}

