package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// UserStore manages users and their role assignment
type UserStore struct {
	db    *gorm.DB
	authz *authz.Service
}

// RegisterInput describes a self-service signup, by password or social login
type RegisterInput struct {
	Name         string
	Email        string
	PasswordHash string
	ProviderName *string
	ProviderID   *string
	Avatar       *string
}

// CreateUserInput describes a user created by an authorized actor
type CreateUserInput struct {
	Name         string
	Email        string
	PasswordHash string
	TenantID     *uuid.UUID
	Role         authz.RoleName
}

// UpdateUserInput holds optional changes to a user; nil fields are left alone
type UpdateUserInput struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Role         *authz.RoleName
}

// UserFilter narrows a user listing
type UserFilter struct {
	PageRequest
	TenantID *uuid.UUID
}

func (s *UserStore) base(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.User{})
}

func withRelations(q *gorm.DB) *gorm.DB {
	return q.Preload("Roles").Preload("Tenant")
}

func (s *UserStore) emailTaken(tx *gorm.DB, email string, except uuid.UUID) (bool, error) {
	var count int64
	q := tx.Unscoped().Model(&models.User{}).Where("LOWER(email) = ?", strings.ToLower(email))
	if except != uuid.Nil {
		q = q.Where("id <> ?", except)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, apperr.Internal("failed to check email", err)
	}
	return count > 0, nil
}

func findRole(tx *gorm.DB, name authz.RoleName) (*models.Role, error) {
	var role models.Role
	if err := tx.Where("name = ?", string(name)).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Invalid("role", "The selected role is invalid.")
		}
		return nil, apperr.Internal("failed to load role", err)
	}
	return &role, nil
}

// replaceRole retracts every role the user holds, then assigns one
func replaceRole(tx *gorm.DB, user *models.User, name authz.RoleName) error {
	role, err := findRole(tx, name)
	if err != nil {
		return err
	}
	if err := tx.Model(user).Association("Roles").Clear(); err != nil {
		return apperr.Internal("failed to retract roles", err)
	}
	if err := tx.Model(user).Association("Roles").Append(role); err != nil {
		return apperr.Internal("failed to assign role", err)
	}
	user.Roles = []models.Role{*role}
	return nil
}

// requireTenantFor enforces that only developers live outside a tenant
func requireTenantFor(role authz.RoleName, tenantID *uuid.UUID) error {
	if role != authz.RoleDeveloper && tenantID == nil {
		return apperr.Invalid("tenant_id", "The tenant id field is required for the "+string(role)+" role.")
	}
	return nil
}

func (s *UserStore) reload(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := withRelations(s.base(ctx)).Where("users.id = ?", id).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "User", "load")
	}
	return &user, nil
}

// Register creates a user together with a fresh tenant named after them
// and makes them its admin
func (s *UserStore) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	var user *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.emailTaken(tx, in.Email, uuid.Nil)
		if err != nil {
			return err
		}
		if exists {
			return taken("email")
		}

		tenant, err := createTenant(tx, in.Name+"'s Company")
		if err != nil {
			return err
		}

		user = &models.User{
			Name:         in.Name,
			Email:        in.Email,
			Password:     in.PasswordHash,
			TenantID:     &tenant.ID,
			ProviderName: in.ProviderName,
			ProviderID:   in.ProviderID,
			Avatar:       in.Avatar,
		}
		if err := tx.Create(user).Error; err != nil {
			if isDuplicate(err) {
				return taken("email")
			}
			return apperr.Internal("failed to create user", err)
		}
		user.Tenant = tenant
		return replaceRole(tx, user, authz.RoleAdmin)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create adds a user on behalf of an actor. Actors confined to a tenant
// always create into their own tenant, whatever was requested. The role is
// resolved through the assignment policy and defaults to staff.
func (s *UserStore) Create(ctx context.Context, actor *authz.Actor, in CreateUserInput) (*models.User, error) {
	if !s.authz.Can(actor, authz.CreateTenantUsers) {
		return nil, apperr.Unauthorized("")
	}

	tenantID := in.TenantID
	if !s.authz.IsGlobal(actor) {
		id, ok := actor.Tenant.TenantID()
		if !ok {
			return nil, apperr.Unauthorized("")
		}
		tenantID = &id
	}

	requested := in.Role
	if requested == "" {
		requested = authz.RoleStaff
	}
	role, err := s.authz.ResolveAssignment(actor, requested)
	if err != nil {
		return nil, err
	}
	if err := requireTenantFor(role, tenantID); err != nil {
		return nil, err
	}

	var user *models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID != nil {
			var count int64
			if err := tx.Model(&models.Tenant{}).Where("id = ?", *tenantID).Count(&count).Error; err != nil {
				return apperr.Internal("failed to check tenant", err)
			}
			if count == 0 {
				return apperr.Invalid("tenant_id", "The selected tenant id is invalid.")
			}
		}

		exists, err := s.emailTaken(tx, in.Email, uuid.Nil)
		if err != nil {
			return err
		}
		if exists {
			return taken("email")
		}

		user = &models.User{
			Name:     in.Name,
			Email:    in.Email,
			Password: in.PasswordHash,
			TenantID: tenantID,
		}
		if err := tx.Create(user).Error; err != nil {
			if isDuplicate(err) {
				return taken("email")
			}
			return apperr.Internal("failed to create user", err)
		}
		return replaceRole(tx, user, role)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, user.ID)
}

// Find loads a user inside the actor's scope. Users of other tenants are NotFound.
func (s *UserStore) Find(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.User, error) {
	if !s.authz.Can(actor, authz.ReadTenantUsers) {
		return nil, apperr.Unauthorized("")
	}
	return s.findScoped(ctx, actor, id)
}

func (s *UserStore) findScoped(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.User, error) {
	var user models.User
	q := s.authz.Scope(actor, authz.Users, withRelations(s.base(ctx)))
	if err := q.Where("users.id = ?", id).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "User", "load")
	}
	return &user, nil
}

// Update applies changes to a user. Actors may always edit themselves;
// editing others requires update-tenant-users. A role change goes through
// AssignRole semantics.
func (s *UserStore) Update(ctx context.Context, actor *authz.Actor, id uuid.UUID, in UpdateUserInput) (*models.User, error) {
	self := actor.Is(id)
	canManage := s.authz.Can(actor, authz.UpdateTenantUsers)
	if !self && !canManage {
		return nil, apperr.Unauthorized("")
	}

	var (
		user *models.User
		err  error
	)
	if self {
		user, err = s.reload(ctx, id)
	} else {
		user, err = s.findScoped(ctx, actor, id)
	}
	if err != nil {
		return nil, err
	}

	var role authz.RoleName
	if in.Role != nil {
		if !canManage {
			return nil, apperr.Unauthorized("You may not change roles.")
		}
		if role, err = s.authz.ResolveAssignment(actor, *in.Role); err != nil {
			return nil, err
		}
		if err := requireTenantFor(role, user.TenantID); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if in.Name != nil {
			updates["name"] = *in.Name
		}
		if in.Email != nil && !strings.EqualFold(*in.Email, user.Email) {
			exists, err := s.emailTaken(tx, *in.Email, user.ID)
			if err != nil {
				return err
			}
			if exists {
				return taken("email")
			}
			updates["email"] = *in.Email
		}
		if in.PasswordHash != nil && *in.PasswordHash != "" {
			updates["password"] = *in.PasswordHash
		}
		if len(updates) > 0 {
			if err := tx.Model(user).Updates(updates).Error; err != nil {
				if isDuplicate(err) {
					return taken("email")
				}
				return apperr.Internal("failed to update user", err)
			}
		}
		if role != "" {
			return replaceRole(tx, user, role)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, user.ID)
}

// AssignRole gives the target exactly one role. The actor needs
// update-tenant-users and the target inside their scope; the requested role
// is resolved through the assignment policy.
func (s *UserStore) AssignRole(ctx context.Context, actor *authz.Actor, targetID uuid.UUID, requested authz.RoleName) (*models.User, error) {
	if !s.authz.Can(actor, authz.UpdateTenantUsers) {
		return nil, apperr.Unauthorized("")
	}
	target, err := s.findScoped(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}
	role, err := s.authz.ResolveAssignment(actor, requested)
	if err != nil {
		return nil, err
	}
	if err := requireTenantFor(role, target.TenantID); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceRole(tx, target, role)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, target.ID)
}

// Delete soft-deletes a user inside the actor's scope
func (s *UserStore) Delete(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.User, error) {
	if !s.authz.Can(actor, authz.DeleteTenantUsers) {
		return nil, apperr.Unauthorized("")
	}
	user, err := s.findScoped(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(user).Error; err != nil {
		return nil, apperr.Internal("failed to delete user", err)
	}
	return user, nil
}

// Paginate lists users inside the actor's scope. Any read ability over the
// tenant opens the listing. Search matches name or email. The tenant filter
// only narrows listings of actors who see every tenant; for everyone else
// the scope already decides.
func (s *UserStore) Paginate(ctx context.Context, actor *authz.Actor, f UserFilter) (*Page[models.User], error) {
	if !s.authz.CanAnyOf(actor, authz.ReadTenantUsers, authz.ReadTenantData, authz.ReadAllTenants) {
		return nil, apperr.Unauthorized("")
	}
	global := s.authz.IsGlobal(actor)
	build := func() *gorm.DB {
		q := s.authz.Scope(actor, authz.Users, s.base(ctx))
		if global && f.TenantID != nil {
			q = q.Where("users.tenant_id = ?", *f.TenantID)
		}
		if strings.TrimSpace(f.Search) != "" {
			like := likePattern(f.Search)
			q = q.Where("(LOWER(users.name) LIKE ? OR LOWER(users.email) LIKE ?)", like, like)
		}
		return q
	}
	return paginate[models.User](build, f.PageRequest, byName("users"), "Roles", "Tenant")
}

// Self loads the actor's own user record
func (s *UserStore) Self(ctx context.Context, actor *authz.Actor) (*models.User, error) {
	if actor == nil {
		return nil, apperr.Unauthorized("")
	}
	return s.reload(ctx, actor.UserID)
}

// LoadActor resolves a user id into an actor, for authentication
func (s *UserStore) LoadActor(ctx context.Context, id uuid.UUID) (*authz.Actor, error) {
	user, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	return authz.ActorFromUser(user), nil
}

// FindByEmail looks up a live user by email, case-insensitively
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := withRelations(s.base(ctx)).Where("LOWER(users.email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, notFoundOr(err, "User", "load")
	}
	return &user, nil
}

// FindByProvider looks up a user linked to a social login identity
func (s *UserStore) FindByProvider(ctx context.Context, provider, providerID string) (*models.User, error) {
	var user models.User
	err := withRelations(s.base(ctx)).
		Where("users.provider_name = ? AND users.provider_id = ?", provider, providerID).
		First(&user).Error
	if err != nil {
		return nil, notFoundOr(err, "User", "load")
	}
	return &user, nil
}

// LinkProvider attaches a social identity to a user and adopts the
// provider's avatar when the user has none
func (s *UserStore) LinkProvider(ctx context.Context, id uuid.UUID, provider, providerID string, avatar *string) (*models.User, error) {
	user, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"provider_name": provider,
		"provider_id":   providerID,
	}
	if !user.HasAvatar() && avatar != nil && *avatar != "" {
		updates["avatar"] = *avatar
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, apperr.Internal("failed to link provider", err)
	}
	return s.reload(ctx, id)
}

// UnlinkProvider removes the social identity from the actor's account
func (s *UserStore) UnlinkProvider(ctx context.Context, actor *authz.Actor, provider string) (*models.User, error) {
	user, err := s.Self(ctx, actor)
	if err != nil {
		return nil, err
	}
	if user.ProviderName == nil || *user.ProviderName != provider {
		return nil, apperr.NotFound("Linked account")
	}
	err = s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"provider_name": nil,
		"provider_id":   nil,
	}).Error
	if err != nil {
		return nil, apperr.Internal("failed to unlink provider", err)
	}
	return s.reload(ctx, user.ID)
}

// TouchLogin records a successful sign-in
func (s *UserStore) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login_at", at).Error
	if err != nil {
		return apperr.Internal("failed to record login", err)
	}
	return nil
}

// UpdateProfile changes the actor's own display name
func (s *UserStore) UpdateProfile(ctx context.Context, actor *authz.Actor, name string) (*models.User, error) {
	user, err := s.Self(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("name", name).Error; err != nil {
		return nil, apperr.Internal("failed to update profile", err)
	}
	return s.reload(ctx, user.ID)
}

// ChangePassword stores a new password hash for the actor
func (s *UserStore) ChangePassword(ctx context.Context, actor *authz.Actor, hash string) error {
	user, err := s.Self(ctx, actor)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password", hash).Error; err != nil {
		return apperr.Internal("failed to change password", err)
	}
	return nil
}

// SetAvatar stores or clears the actor's avatar object key
func (s *UserStore) SetAvatar(ctx context.Context, actor *authz.Actor, key *string) (*models.User, error) {
	user, err := s.Self(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("avatar", key).Error; err != nil {
		return nil, apperr.Internal("failed to update avatar", err)
	}
	return s.reload(ctx, user.ID)
}

// Deactivate soft-deletes the actor's own account
func (s *UserStore) Deactivate(ctx context.Context, actor *authz.Actor) error {
	user, err := s.Self(ctx, actor)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(user).Error; err != nil {
		return apperr.Internal("failed to deactivate account", err)
	}
	return nil
}
