package authz

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// DefaultRegistry builds an in-memory registry holding the default catalog
// and grants, without touching a database
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, role := range DefaultRoles {
		r.Grant(role.Name)
	}
	// every catalog entry is held by at least one default role
	for role, abilities := range DefaultGrants() {
		r.Grant(role, abilities...)
	}
	return r
}

// Provision installs the default catalog, roles and grants into the
// database and loads the result into the registry. It is idempotent:
// existing rows are kept and missing grants are added.
func Provision(ctx context.Context, db *gorm.DB, registry *Registry) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		abilities := make(map[Ability]models.Ability, len(DefaultCatalog))
		for _, entry := range DefaultCatalog {
			a, err := firstOrCreateAbility(tx, string(entry.Name), entry.Title)
			if err != nil {
				return err
			}
			abilities[entry.Name] = a
		}

		grants := DefaultGrants()
		for _, def := range DefaultRoles {
			role, err := firstOrCreateRole(tx, string(def.Name), def.Title)
			if err != nil {
				return err
			}
			granted := make([]models.Ability, 0, len(grants[def.Name]))
			for _, name := range grants[def.Name] {
				granted = append(granted, abilities[name])
			}
			if err := tx.Model(&role).Association("Abilities").Append(granted); err != nil {
				return fmt.Errorf("failed to grant abilities to %s: %w", def.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return registry.Load(ctx, db)
}

func firstOrCreateAbility(tx *gorm.DB, name, title string) (models.Ability, error) {
	var a models.Ability
	err := tx.Where("name = ?", name).First(&a).Error
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return a, fmt.Errorf("failed to look up ability %s: %w", name, err)
	}
	a = models.Ability{Name: name, Title: &title}
	if err := tx.Create(&a).Error; err != nil {
		return a, fmt.Errorf("failed to create ability %s: %w", name, err)
	}
	return a, nil
}

func firstOrCreateRole(tx *gorm.DB, name, title string) (models.Role, error) {
	var r models.Role
	err := tx.Where("name = ?", name).First(&r).Error
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return r, fmt.Errorf("failed to look up role %s: %w", name, err)
	}
	r = models.Role{Name: name, Title: &title}
	if err := tx.Create(&r).Error; err != nil {
		return r, fmt.Errorf("failed to create role %s: %w", name, err)
	}
	return r, nil
}
