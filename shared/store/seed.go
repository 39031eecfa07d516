package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

type demoUser struct {
	name   string
	email  string
	tenant string
	role   authz.RoleName
}

var demoUsers = []demoUser{
	{"Developer", "developer@example.com", "", authz.RoleDeveloper},
	{"Admin One", "admin1@example.com", "Company A", authz.RoleAdmin},
	{"Admin Two", "admin2@example.com", "Company B", authz.RoleAdmin},
	{"Staff One", "staff1@example.com", "Company A", authz.RoleStaff},
}

// SeedDemo installs two sample tenants and one user per role, all sharing
// passwordHash. Existing users are left untouched. Roles must already be
// provisioned.
func (s *Store) SeedDemo(ctx context.Context, passwordHash string) error {
	tenants := map[string]uuid.UUID{}
	for _, name := range []string{"Company A", "Company B"} {
		t, err := s.Tenants.FirstOrCreate(ctx, name)
		if err != nil {
			return err
		}
		tenants[name] = t.ID
	}

	for _, du := range demoUsers {
		_, err := s.Users.FindByEmail(ctx, du.email)
		if err == nil {
			continue
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}

		var tenantID *uuid.UUID
		if du.tenant != "" {
			id := tenants[du.tenant]
			tenantID = &id
		}
		err = s.Users.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			user := &models.User{Name: du.name, Email: du.email, Password: passwordHash, TenantID: tenantID}
			if err := tx.Create(user).Error; err != nil {
				return apperr.Internal("failed to seed "+du.email, err)
			}
			return replaceRole(tx, user, du.role)
		})
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Kind == apperr.KindValidation {
				return apperr.Internal("roles are not provisioned", err)
			}
			return err
		}
	}
	return nil
}
