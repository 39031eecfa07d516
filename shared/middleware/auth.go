package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

const (
	actorKey       = "actor"
	claimsKey      = "claims"
	accessTokenKey = "access_token"
)

// ActorLoader resolves the acting user, with roles and tenant, by id
type ActorLoader interface {
	LoadActor(ctx context.Context, id uuid.UUID) (*authz.Actor, error)
}

// AuthMiddleware validates bearer tokens against the signing key and the
// Redis session store
type AuthMiddleware struct {
	tokens   *auth.TokenIssuer
	sessions *utils.SessionStore
	actors   ActorLoader
}

// NewAuthMiddleware creates the middleware. actors may be nil where only the
// token and session need checking (the gateway).
func NewAuthMiddleware(tokens *auth.TokenIssuer, sessions *utils.SessionStore, actors ActorLoader) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, sessions: sessions, actors: actors}
}

// RequireAuth rejects requests without a live session. On success the
// claims, the raw token and, when a loader is configured, the actor are
// stored in the context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := Logger(c)

		tokenString := extractToken(c)
		if tokenString == "" {
			utils.UnauthorizedResponse(c, "Authorization token required")
			c.Abort()
			return
		}

		claims, err := am.tokens.Parse(tokenString)
		if err != nil {
			log.WithError(err).Debug("Rejected access token")
			utils.UnauthorizedResponse(c, "Invalid or expired token")
			c.Abort()
			return
		}

		if _, err := am.sessions.Get(c.Request.Context(), tokenString); err != nil {
			if !errors.Is(err, utils.ErrSessionNotFound) {
				log.WithError(err).Error("Session lookup failed")
			}
			utils.UnauthorizedResponse(c, "Session expired or revoked")
			c.Abort()
			return
		}
		if err := am.sessions.Touch(c.Request.Context(), tokenString); err != nil {
			log.WithError(err).Warn("Failed to update session last used time")
		}

		c.Set(claimsKey, claims)
		c.Set(accessTokenKey, tokenString)
		c.Set(loggerKey, log.WithField("user_id", claims.Subject))

		if am.actors != nil {
			userID, _ := claims.UserID()
			actor, err := am.actors.LoadActor(c.Request.Context(), userID)
			if err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					utils.UnauthorizedResponse(c, "User no longer exists")
				} else {
					utils.HandleError(c, err)
				}
				c.Abort()
				return
			}
			c.Set(actorKey, actor)
		}

		c.Next()
	}
}

// RequireAbility lets the request through when the actor holds any of the
// given abilities
func RequireAbility(svc *authz.Service, abilities ...authz.Ability) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := GetActor(c)
		if !svc.CanAnyOf(actor, abilities...) {
			Logger(c).WithFields(logrus.Fields{
				"abilities": abilities,
			}).Info("Authorization denied")
			utils.HandleError(c, apperr.Unauthorized(""))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetActor returns the authenticated actor, or nil
func GetActor(c *gin.Context) *authz.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(*authz.Actor); ok {
			return actor
		}
	}
	return nil
}

// GetClaims returns the verified token claims, or nil
func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetAccessToken returns the bearer token of an authenticated request
func GetAccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return authHeader
}
