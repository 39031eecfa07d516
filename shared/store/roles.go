package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// RoleStore manages roles and the abilities granted to them. Every
// successful mutation reloads the authorization registry.
type RoleStore struct {
	db    *gorm.DB
	authz *authz.Service
}

// CatalogInput is the editable part of a role or ability
type CatalogInput struct {
	Name  string
	Title *string
}

func validateCatalogInput(in CatalogInput) (CatalogInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	fields := map[string][]string{}
	if in.Name == "" {
		fields["name"] = []string{"The name field is required."}
	} else if len(in.Name) > 100 {
		fields["name"] = []string{"The name may not be greater than 100 characters."}
	}
	if in.Title != nil && len(*in.Title) > 255 {
		fields["title"] = []string{"The title may not be greater than 255 characters."}
	}
	if len(fields) > 0 {
		return in, apperr.Validation(fields)
	}
	return in, nil
}

func (s *RoleStore) reloadRegistry(ctx context.Context) error {
	if err := s.authz.CatalogChanged(ctx); err != nil {
		return apperr.Internal("failed to reload permissions", err)
	}
	return nil
}

// Paginate lists roles, searching by name
func (s *RoleStore) Paginate(ctx context.Context, actor *authz.Actor, req PageRequest) (*Page[models.Role], error) {
	if !s.authz.Can(actor, authz.ReadRoles) {
		return nil, apperr.Unauthorized("")
	}
	build := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Role{})
		if strings.TrimSpace(req.Search) != "" {
			q = q.Where("LOWER(roles.name) LIKE ?", likePattern(req.Search))
		}
		return q
	}
	return paginate[models.Role](build, req, byName("roles"))
}

// All returns every role, for pickers
func (s *RoleStore) All(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order(byName("roles")).Find(&roles).Error; err != nil {
		return nil, apperr.Internal("failed to list roles", err)
	}
	return roles, nil
}

// Find loads a role with its abilities
func (s *RoleStore) Find(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.Role, error) {
	if !s.authz.Can(actor, authz.ReadRoles) {
		return nil, apperr.Unauthorized("")
	}
	return s.find(ctx, id)
}

func (s *RoleStore) find(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	var role models.Role
	err := s.db.WithContext(ctx).Preload("Abilities", func(db *gorm.DB) *gorm.DB {
		return db.Order("abilities.name ASC")
	}).Where("roles.id = ?", id).First(&role).Error
	if err != nil {
		return nil, notFoundOr(err, "Role", "load")
	}
	return &role, nil
}

// Create inserts a role. A duplicate name is a Conflict.
func (s *RoleStore) Create(ctx context.Context, actor *authz.Actor, in CatalogInput) (*models.Role, error) {
	if !s.authz.Can(actor, authz.CreateRoles) {
		return nil, apperr.Unauthorized("")
	}
	in, err := validateCatalogInput(in)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Role{}).Where("name = ?", in.Name).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check role name", err)
	}
	if count > 0 {
		return nil, taken("name")
	}
	role := &models.Role{Name: in.Name, Title: in.Title}
	if err := db.Create(role).Error; err != nil {
		if isDuplicate(err) {
			return nil, taken("name")
		}
		return nil, apperr.Internal("failed to create role", err)
	}
	if err := s.reloadRegistry(ctx); err != nil {
		return nil, err
	}
	return role, nil
}

// FirstOrCreate returns the role with this name, creating it if needed
func (s *RoleStore) FirstOrCreate(ctx context.Context, actor *authz.Actor, in CatalogInput) (*models.Role, bool, error) {
	if !s.authz.Can(actor, authz.CreateRoles) {
		return nil, false, apperr.Unauthorized("")
	}
	in, err := validateCatalogInput(in)
	if err != nil {
		return nil, false, err
	}
	db := s.db.WithContext(ctx)

	var role models.Role
	err = db.Where("name = ?", in.Name).First(&role).Error
	if err == nil {
		return &role, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.Internal("failed to look up role", err)
	}

	role = models.Role{Name: in.Name, Title: in.Title}
	if err := db.Create(&role).Error; err != nil {
		if !isDuplicate(err) {
			return nil, false, apperr.Internal("failed to create role", err)
		}
		if err := db.Where("name = ?", in.Name).First(&role).Error; err != nil {
			return nil, false, notFoundOr(err, "Role", "load")
		}
		return &role, false, nil
	}
	if err := s.reloadRegistry(ctx); err != nil {
		return nil, false, err
	}
	return &role, true, nil
}

// Update renames or retitles a role
func (s *RoleStore) Update(ctx context.Context, actor *authz.Actor, id uuid.UUID, in CatalogInput) (*models.Role, error) {
	if !s.authz.Can(actor, authz.UpdateRoles) {
		return nil, apperr.Unauthorized("")
	}
	in, err := validateCatalogInput(in)
	if err != nil {
		return nil, err
	}
	role, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Role{}).Where("name = ? AND id <> ?", in.Name, id).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check role name", err)
	}
	if count > 0 {
		return nil, taken("name")
	}

	err = db.Model(role).Updates(map[string]interface{}{"name": in.Name, "title": in.Title}).Error
	if err != nil {
		if isDuplicate(err) {
			return nil, taken("name")
		}
		return nil, apperr.Internal("failed to update role", err)
	}
	if err := s.reloadRegistry(ctx); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}

// Delete removes a role, its grants and its assignments
func (s *RoleStore) Delete(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.Role, error) {
	if !s.authz.Can(actor, authz.DeleteRoles) {
		return nil, apperr.Unauthorized("")
	}
	role, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(role).Association("Abilities").Clear(); err != nil {
			return apperr.Internal("failed to revoke role abilities", err)
		}
		if err := tx.Exec("DELETE FROM assigned_roles WHERE role_id = ?", role.ID).Error; err != nil {
			return apperr.Internal("failed to retract role", err)
		}
		if err := tx.Delete(role).Error; err != nil {
			return apperr.Internal("failed to delete role", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.reloadRegistry(ctx); err != nil {
		return nil, err
	}
	return role, nil
}

// Abilities returns the abilities granted to a role
func (s *RoleStore) Abilities(ctx context.Context, actor *authz.Actor, id uuid.UUID) ([]models.Ability, error) {
	if !s.authz.Can(actor, authz.ReadRolePermissions) {
		return nil, apperr.Unauthorized("")
	}
	role, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return role.Abilities, nil
}

func (s *RoleStore) loadAbilities(tx *gorm.DB, names []string) ([]models.Ability, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var abilities []models.Ability
	if err := tx.Where("name IN ?", names).Find(&abilities).Error; err != nil {
		return nil, apperr.Internal("failed to load abilities", err)
	}
	found := make(map[string]bool, len(abilities))
	for _, a := range abilities {
		found[a.Name] = true
	}
	var missing []string
	for _, n := range names {
		if !found[n] {
			missing = append(missing, "The selected ability "+n+" is invalid.")
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Validation(map[string][]string{"abilities": missing})
	}
	return abilities, nil
}

// SetAbilities replaces the role's grant set
func (s *RoleStore) SetAbilities(ctx context.Context, actor *authz.Actor, id uuid.UUID, names []string) (*models.Role, error) {
	if !s.authz.Can(actor, authz.UpdateRolePermissions) {
		return nil, apperr.Unauthorized("")
	}
	return s.changeGrants(ctx, id, func(tx *gorm.DB, role *models.Role) error {
		abilities, err := s.loadAbilities(tx, names)
		if err != nil {
			return err
		}
		assoc := tx.Model(role).Association("Abilities")
		if len(abilities) == 0 {
			if err := assoc.Clear(); err != nil {
				return apperr.Internal("failed to clear role abilities", err)
			}
			return nil
		}
		if err := assoc.Replace(abilities); err != nil {
			return apperr.Internal("failed to replace role abilities", err)
		}
		return nil
	})
}

// Grant adds one ability to a role
func (s *RoleStore) Grant(ctx context.Context, actor *authz.Actor, id uuid.UUID, ability string) (*models.Role, error) {
	if !s.authz.Can(actor, authz.CreateRolePermissions) {
		return nil, apperr.Unauthorized("")
	}
	return s.changeGrants(ctx, id, func(tx *gorm.DB, role *models.Role) error {
		abilities, err := s.loadAbilities(tx, []string{ability})
		if err != nil {
			return err
		}
		if err := tx.Model(role).Association("Abilities").Append(abilities); err != nil {
			return apperr.Internal("failed to grant ability", err)
		}
		return nil
	})
}

// Revoke removes one ability from a role
func (s *RoleStore) Revoke(ctx context.Context, actor *authz.Actor, id uuid.UUID, ability string) (*models.Role, error) {
	if !s.authz.Can(actor, authz.DeleteRolePermissions) {
		return nil, apperr.Unauthorized("")
	}
	return s.changeGrants(ctx, id, func(tx *gorm.DB, role *models.Role) error {
		abilities, err := s.loadAbilities(tx, []string{ability})
		if err != nil {
			return err
		}
		if err := tx.Model(role).Association("Abilities").Delete(abilities); err != nil {
			return apperr.Internal("failed to revoke ability", err)
		}
		return nil
	})
}

func (s *RoleStore) changeGrants(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, role *models.Role) error) (*models.Role, error) {
	role, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, role)
	})
	if err != nil {
		return nil, err
	}
	if err := s.reloadRegistry(ctx); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}
