// Package store persists tenants, users, roles and abilities. Every entry
// point that acts on behalf of a user takes the actor and consults the
// authorization service before it reads or writes.
package store

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
)

// Store groups the per-entity stores over one database
type Store struct {
	Tenants   *TenantStore
	Users     *UserStore
	Roles     *RoleStore
	Abilities *AbilityStore
	Audit     *AuditStore
}

// New wires every entity store to db and the authorization service
func New(db *gorm.DB, az *authz.Service) *Store {
	return &Store{
		Tenants:   &TenantStore{db: db, authz: az},
		Users:     &UserStore{db: db, authz: az},
		Roles:     &RoleStore{db: db, authz: az},
		Abilities: &AbilityStore{db: db, authz: az},
		Audit:     &AuditStore{db: db, authz: az},
	}
}

// notFoundOr maps gorm's missing-record error onto NotFound
func notFoundOr(err error, resource, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.Internal(fmt.Sprintf("failed to %s %s", op, strings.ToLower(resource)), err)
}

// isDuplicate reports a unique constraint violation, translated or raw
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func taken(field string) error {
	return apperr.Conflict(field, fmt.Sprintf("The %s has already been taken.", field))
}

func likePattern(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}
