package authz

import (
	"github.com/google/uuid"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// TenantScope is where an actor lives: either bound to one tenant or
// outside every tenant. The zero value is the unbound (global) scope.
type TenantScope struct {
	id    uuid.UUID
	bound bool
}

// GlobalScope returns the scope of an actor that belongs to no tenant
func GlobalScope() TenantScope {
	return TenantScope{}
}

// TenantOf returns the scope of an actor bound to the given tenant
func TenantOf(id uuid.UUID) TenantScope {
	return TenantScope{id: id, bound: true}
}

// ScopeFromPtr maps a nullable tenant column onto a TenantScope
func ScopeFromPtr(id *uuid.UUID) TenantScope {
	if id == nil {
		return GlobalScope()
	}
	return TenantOf(*id)
}

// TenantID returns the bound tenant id
func (s TenantScope) TenantID() (uuid.UUID, bool) {
	return s.id, s.bound
}

// Ptr maps the scope back onto a nullable tenant column
func (s TenantScope) Ptr() *uuid.UUID {
	if !s.bound {
		return nil
	}
	id := s.id
	return &id
}

func (s TenantScope) IsGlobal() bool {
	return !s.bound
}

// Contains reports whether the scope is bound to exactly this tenant
func (s TenantScope) Contains(id uuid.UUID) bool {
	return s.bound && s.id == id
}

func (s TenantScope) String() string {
	if !s.bound {
		return "global"
	}
	return "tenant:" + s.id.String()
}

// Actor is the authenticated principal a request runs as
type Actor struct {
	UserID uuid.UUID
	Email  string
	Tenant TenantScope
	Roles  []RoleName
}

// ActorFromUser builds an actor from a user loaded with its roles
func ActorFromUser(u *models.User) *Actor {
	roles := make([]RoleName, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, RoleName(r.Name))
	}
	return &Actor{
		UserID: u.ID,
		Email:  u.Email,
		Tenant: ScopeFromPtr(u.TenantID),
		Roles:  roles,
	}
}

// HasRole reports whether the actor holds the named role
func (a *Actor) HasRole(role RoleName) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Is reports whether the actor is the given user
func (a *Actor) Is(userID uuid.UUID) bool {
	return a != nil && a.UserID == userID
}
