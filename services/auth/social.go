package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

const stateTTL = 10 * time.Minute

// SocialUser is the identity a provider returns after a successful exchange
type SocialUser struct {
	ID     string
	Name   string
	Email  string
	Avatar *string
}

// SocialProvider is one OAuth2 login provider
type SocialProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*SocialUser, error)
}

// oauthProvider exchanges codes with an OAuth2 endpoint and then reads the
// user's profile with the resulting token
type oauthProvider struct {
	config  *oauth2.Config
	profile func(ctx context.Context, client *http.Client) (*SocialUser, error)
}

func (p *oauthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *oauthProvider) Exchange(ctx context.Context, code string) (*SocialUser, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return p.profile(ctx, p.config.Client(ctx, token))
}

// socialProviders builds every provider with client credentials configured
func socialProviders(cfg config.OAuthConfig) map[string]SocialProvider {
	providers := make(map[string]SocialProvider)
	if cfg.GitHub.Enabled() {
		providers["github"] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				RedirectURL:  cfg.GitHub.RedirectURL,
				Endpoint:     endpoints.GitHub,
				Scopes:       []string{"read:user", "user:email"},
			},
			profile: githubProfile,
		}
	}
	if cfg.Google.Enabled() {
		providers["google"] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Google.RedirectURL,
				Endpoint:     endpoints.Google,
				Scopes:       []string{"openid", "profile", "email"},
			},
			profile: googleProfile,
		}
	}
	return providers
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func githubProfile(ctx context.Context, client *http.Client) (*SocialUser, error) {
	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, "https://api.github.com/user", &profile); err != nil {
		return nil, err
	}

	user := &SocialUser{
		ID:    strconv.FormatInt(profile.ID, 10),
		Name:  profile.Name,
		Email: profile.Email,
	}
	if user.Name == "" {
		user.Name = profile.Login
	}
	if profile.AvatarURL != "" {
		user.Avatar = &profile.AvatarURL
	}

	// Users with a private email only expose it through /user/emails
	if user.Email == "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				user.Email = e.Email
				break
			}
		}
	}
	return user, nil
}

func googleProfile(ctx context.Context, client *http.Client) (*SocialUser, error) {
	var profile struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, "https://openidconnect.googleapis.com/v1/userinfo", &profile); err != nil {
		return nil, err
	}

	user := &SocialUser{ID: profile.Sub, Name: profile.Name}
	if profile.EmailVerified {
		user.Email = profile.Email
	}
	if profile.Picture != "" {
		user.Avatar = &profile.Picture
	}
	return user, nil
}

func (s *Server) provider(c *gin.Context) (string, SocialProvider, bool) {
	name := strings.ToLower(c.Param("provider"))
	p, ok := s.Providers[name]
	if !ok {
		utils.NotFoundResponse(c, "Unsupported login provider")
		return "", nil, false
	}
	return name, p, true
}

// handleSocialRedirect starts a social login. Browsers are redirected to
// the provider; API clients asking for JSON get the URL instead.
func handleSocialRedirect(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, p, ok := s.provider(c)
		if !ok {
			return
		}

		state := uuid.NewString()
		if err := s.Sessions.PutState(c.Request.Context(), state, name, stateTTL); err != nil {
			utils.HandleError(c, apperr.Internal("failed to store oauth state", err))
			return
		}

		url := p.AuthCodeURL(state)
		if strings.Contains(c.GetHeader("Accept"), "application/json") {
			utils.OKResponse(c, "Redirect to provider", gin.H{"url": url})
			return
		}
		c.Redirect(http.StatusFound, url)
	}
}

// handleSocialCallback completes a social login, linking or registering the
// user as needed, and signs them in
func handleSocialCallback(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, p, ok := s.provider(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		bound, err := s.Sessions.ConsumeState(ctx, c.Query("state"))
		if err != nil || bound != name {
			utils.UnauthorizedResponse(c, "Invalid or expired login state")
			return
		}

		code := c.Query("code")
		if code == "" {
			utils.BadRequestResponse(c, "Missing authorization code")
			return
		}

		identity, err := p.Exchange(ctx, code)
		if err != nil {
			middleware.Logger(c).WithError(err).WithField("provider", name).Warn("Social login exchange failed")
			utils.UnauthorizedResponse(c, "Failed to authenticate with "+name)
			return
		}

		user, created, err := s.resolveSocialUser(ctx, name, identity)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		resp, err := s.signIn(ctx, user)
		if err != nil {
			utils.HandleError(c, err)
			return
		}

		actor := &authz.Actor{UserID: user.ID}
		if created {
			s.Emit(c, events.New(events.UserRegistered, actor, user.TenantID, user.ID.String(), gin.H{"email": user.Email, "provider": name}))
		}
		s.Emit(c, events.New(events.UserLoggedIn, actor, user.TenantID, user.ID.String(), gin.H{"provider": name}))

		utils.OKResponse(c, "Login successful", resp)
	}
}

// resolveSocialUser finds the user linked to identity, links an existing
// account with the same email, or registers a new one
func (s *Server) resolveSocialUser(ctx context.Context, provider string, identity *SocialUser) (*models.User, bool, error) {
	user, err := s.Store.Users.FindByProvider(ctx, provider, identity.ID)
	if err == nil {
		return user, false, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, false, err
	}

	if identity.Email == "" {
		return nil, false, apperr.Invalid("email", "The "+provider+" account has no verified email address.")
	}

	existing, err := s.Store.Users.FindByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		user, err := s.Store.Users.LinkProvider(ctx, existing.ID, provider, identity.ID, identity.Avatar)
		return user, false, err
	case !apperr.Is(err, apperr.KindNotFound):
		return nil, false, err
	}

	// Social accounts get an unusable random password until they set one
	hash, err := s.Hasher.Hash(uuid.NewString() + uuid.NewString())
	if err != nil {
		return nil, false, apperr.Internal("failed to hash password", err)
	}
	name := identity.Name
	if name == "" {
		name = strings.Split(identity.Email, "@")[0]
	}
	providerName, providerID := provider, identity.ID
	user, err = s.Store.Users.Register(ctx, store.RegisterInput{
		Name:         name,
		Email:        identity.Email,
		PasswordHash: hash,
		ProviderName: &providerName,
		ProviderID:   &providerID,
		Avatar:       identity.Avatar,
	})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// handleSocialUnlink detaches a social identity from the current user
func handleSocialUnlink(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := strings.ToLower(c.Param("provider"))
		user, err := s.Store.Users.UnlinkProvider(c.Request.Context(), middleware.GetActor(c), provider)
		if err != nil {
			utils.HandleError(c, err)
			return
		}
		utils.OKResponse(c, "Account unlinked", resources.NewUser(user, s.Objects))
	}
}
