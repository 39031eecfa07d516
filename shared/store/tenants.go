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

// TenantStore manages tenants
type TenantStore struct {
	db    *gorm.DB
	authz *authz.Service
}

func validateTenantName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("name", "The name field is required.")
	}
	if len(name) > 255 {
		return "", apperr.Invalid("name", "The name may not be greater than 255 characters.")
	}
	return name, nil
}

// Create inserts a tenant. A duplicate name is a Conflict.
func (s *TenantStore) Create(ctx context.Context, actor *authz.Actor, name string) (*models.Tenant, error) {
	if !s.authz.CanAny(actor, authz.ActionCreate) {
		return nil, apperr.Unauthorized("")
	}
	name, err := validateTenantName(name)
	if err != nil {
		return nil, err
	}
	return createTenant(s.db.WithContext(ctx), name)
}

func createTenant(tx *gorm.DB, name string) (*models.Tenant, error) {
	var count int64
	if err := tx.Model(&models.Tenant{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check tenant name", err)
	}
	if count > 0 {
		return nil, taken("name")
	}

	tenant := &models.Tenant{Name: name}
	if err := tx.Create(tenant).Error; err != nil {
		if isDuplicate(err) {
			return nil, taken("name")
		}
		return nil, apperr.Internal("failed to create tenant", err)
	}
	return tenant, nil
}

// FirstOrCreate returns the tenant with this name, creating it if needed.
// Losing a creation race returns the winner's row.
func (s *TenantStore) FirstOrCreate(ctx context.Context, name string) (*models.Tenant, error) {
	name, err := validateTenantName(name)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var tenant models.Tenant
	err = db.Where("name = ?", name).First(&tenant).Error
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("failed to look up tenant", err)
	}

	tenant = models.Tenant{Name: name}
	if err := db.Create(&tenant).Error; err != nil {
		if !isDuplicate(err) {
			return nil, apperr.Internal("failed to create tenant", err)
		}
		if err := db.Where("name = ?", name).First(&tenant).Error; err != nil {
			return nil, notFoundOr(err, "Tenant", "load")
		}
	}
	return &tenant, nil
}

// Find loads a tenant the actor may read. Tenants outside the actor's
// scope are reported as NotFound.
func (s *TenantStore) Find(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.Tenant, error) {
	if !s.authz.CanAny(actor, authz.ActionRead) {
		return nil, apperr.Unauthorized("")
	}
	return s.findScoped(ctx, actor, authz.ActionRead, id)
}

// findScoped loads a tenant inside the actor's scope for action
func (s *TenantStore) findScoped(ctx context.Context, actor *authz.Actor, action authz.Action, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	q := s.authz.ScopeFor(actor, authz.Tenants, action, s.db.WithContext(ctx).Model(&models.Tenant{}))
	if err := q.Where("tenants.id = ?", id).First(&tenant).Error; err != nil {
		return nil, notFoundOr(err, "Tenant", "load")
	}
	return &tenant, nil
}

// Update renames a tenant
func (s *TenantStore) Update(ctx context.Context, actor *authz.Actor, id uuid.UUID, name string) (*models.Tenant, error) {
	if !s.authz.CanAny(actor, authz.ActionUpdate) {
		return nil, apperr.Unauthorized("")
	}
	tenant, err := s.findScoped(ctx, actor, authz.ActionUpdate, id)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanOnTenant(actor, authz.ActionUpdate, tenant.ID) {
		return nil, apperr.Unauthorized("")
	}
	name, err = validateTenantName(name)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Tenant{}).Where("name = ? AND id <> ?", name, tenant.ID).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check tenant name", err)
	}
	if count > 0 {
		return nil, taken("name")
	}

	tenant.Name = name
	if err := db.Save(tenant).Error; err != nil {
		if isDuplicate(err) {
			return nil, taken("name")
		}
		return nil, apperr.Internal("failed to update tenant", err)
	}
	return tenant, nil
}

// Delete removes a tenant that no longer has users, including soft-deleted ones
func (s *TenantStore) Delete(ctx context.Context, actor *authz.Actor, id uuid.UUID) (*models.Tenant, error) {
	if !s.authz.CanAny(actor, authz.ActionDelete) {
		return nil, apperr.Unauthorized("")
	}
	tenant, err := s.findScoped(ctx, actor, authz.ActionDelete, id)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanOnTenant(actor, authz.ActionDelete, tenant.ID) {
		return nil, apperr.Unauthorized("")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Unscoped().Model(&models.User{}).Where("tenant_id = ?", tenant.ID).Count(&users).Error; err != nil {
			return apperr.Internal("failed to check tenant users", err)
		}
		if users > 0 {
			return apperr.Conflict("tenant", "Cannot delete tenant with existing users.")
		}
		if err := tx.Delete(tenant).Error; err != nil {
			return apperr.Internal("failed to delete tenant", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// Paginate lists the tenants the actor may see, filtered by a
// case-insensitive search on name
func (s *TenantStore) Paginate(ctx context.Context, actor *authz.Actor, req PageRequest) (*Page[models.Tenant], error) {
	if !s.authz.CanAny(actor, authz.ActionRead) {
		return nil, apperr.Unauthorized("")
	}
	build := func() *gorm.DB {
		q := s.authz.Scope(actor, authz.Tenants, s.db.WithContext(ctx).Model(&models.Tenant{}))
		if strings.TrimSpace(req.Search) != "" {
			q = q.Where("LOWER(tenants.name) LIKE ?", likePattern(req.Search))
		}
		return q
	}
	return paginate[models.Tenant](build, req, byName("tenants"))
}

// Options returns every tenant visible to the actor, for pickers
func (s *TenantStore) Options(ctx context.Context, actor *authz.Actor) ([]models.Tenant, error) {
	var tenants []models.Tenant
	q := s.authz.Scope(actor, authz.Tenants, s.db.WithContext(ctx).Model(&models.Tenant{}))
	if err := q.Order(byName("tenants")).Find(&tenants).Error; err != nil {
		return nil, apperr.Internal("failed to list tenants", err)
	}
	return tenants, nil
}
