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

// AbilityStore manages the ability catalog, exposed as "permissions"
type AbilityStore struct {
	db    *gorm.DB
	authz *authz.Service
}

func (s *AbilityStore) Paginate(ctx context.Context, actor *authz.Actor, req PageRequest) (*Page[models.Ability], error) {
	if !s.authz.Can(actor, authz.ReadPermissions) {
		return nil, apperr.Unauthorized("")
	}
	build := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Ability{})
		if strings.TrimSpace(req.Search) != "" {
			q = q.Where("LOWER(abilities.name) LIKE ?", likePattern(req.Search))
		}
		return q
	}
	return paginate[models.Ability](build, req, byName("abilities"))
}

func (s *AbilityStore) Find(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.Ability, error) {
	if !s.authz.Can(actor, authz.ReadPermissions) {
		return nil, apperr.Unauthorized("")
	}
	var ability models.Ability
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ability).Error; err != nil {
		return nil, notFoundOr(err, "Permission", "load")
	}
	return &ability, nil
}

// Create inserts an ability. A duplicate name is a Conflict.
func (s *AbilityStore) Create(ctx context.Context, actor *authz.Actor, in CatalogInput) (*models.Ability, error) {
	if !s.authz.Can(actor, authz.CreatePermissions) {
		return nil, apperr.Unauthorized("")
	}
	in, err := validateCatalogInput(in)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Ability{}).Where("name = ?", in.Name).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check permission name", err)
	}
	if count > 0 {
		return nil, taken("name")
	}
	ability := &models.Ability{Name: in.Name, Title: in.Title}
	if err := db.Create(ability).Error; err != nil {
		if isDuplicate(err) {
			return nil, taken("name")
		}
		return nil, apperr.Internal("failed to create permission", err)
	}
	if err := s.authz.CatalogChanged(ctx); err != nil {
		return nil, apperr.Internal("failed to reload permissions", err)
	}
	return ability, nil
}

// FirstOrCreate returns the ability with this name, creating it if needed.
// The bool reports whether a row was created.
func (s *AbilityStore) FirstOrCreate(ctx context.Context, actor *authz.Actor, in CatalogInput) (*models.Ability, bool, error) {
	if !s.authz.Can(actor, authz.CreatePermissions) {
		return nil, false, apperr.Unauthorized("")
	}
	in, err := validateCatalogInput(in)
	if err != nil {
		return nil, false, err
	}
	db := s.db.WithContext(ctx)

	var ability models.Ability
	err = db.Where("name = ?", in.Name).First(&ability).Error
	if err == nil {
		return &ability, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.Internal("failed to look up permission", err)
	}

	ability = models.Ability{Name: in.Name, Title: in.Title}
	if err := db.Create(&ability).Error; err != nil {
		if !isDuplicate(err) {
			return nil, false, apperr.Internal("failed to create permission", err)
		}
		if err := db.Where("name = ?", in.Name).First(&ability).Error; err != nil {
			return nil, false, notFoundOr(err, "Permission", "load")
		}
		return &ability, false, nil
	}
	if err := s.authz.CatalogChanged(ctx); err != nil {
		return nil, false, apperr.Internal("failed to reload permissions", err)
	}
	return &ability, true, nil
}

func (s *AbilityStore) Update(ctx context.Context, actor *authz.Actor, id uuid.UUID, in CatalogInput) (*models.Ability, error) {
	if !s.authz.Can(actor, authz.UpdatePermissions) {
		return nil, apperr.Unauthorized("")
	}
	in, err := validateCatalogInput(in)
	if err != nil {
		return nil, err
	}
	ability, err := s.Find(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Ability{}).Where("name = ? AND id <> ?", in.Name, id).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check permission name", err)
	}
	if count > 0 {
		return nil, taken("name")
	}
	if err := db.Model(ability).Updates(map[string]interface{}{"name": in.Name, "title": in.Title}).Error; err != nil {
		if isDuplicate(err) {
			return nil, taken("name")
		}
		return nil, apperr.Internal("failed to update permission", err)
	}
	ability.Name, ability.Title = in.Name, in.Title
	if err := s.authz.CatalogChanged(ctx); err != nil {
		return nil, apperr.Internal("failed to reload permissions", err)
	}
	return ability, nil
}

// Delete removes an ability and every grant of it
func (s *AbilityStore) Delete(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.Ability, error) {
	if !s.authz.Can(actor, authz.DeletePermissions) {
		return nil, apperr.Unauthorized("")
	}
	ability, err := s.Find(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM role_abilities WHERE ability_id = ?", ability.ID).Error; err != nil {
			return apperr.Internal("failed to revoke permission", err)
		}
		if err := tx.Delete(ability).Error; err != nil {
			return apperr.Internal("failed to delete permission", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.authz.CatalogChanged(ctx); err != nil {
		return nil, apperr.Internal("failed to reload permissions", err)
	}
	return ability, nil
}
