// Package resources renders models into the JSON shapes returned by the API.
package resources

import (
	"time"

	"github.com/google/uuid"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/storage"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
)

// TenantRef is the short form of a tenant embedded in other resources
type TenantRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Tenant is the full tenant resource
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleRef is the short form of a role embedded in a user
type RoleRef struct {
	Name  string  `json:"name"`
	Title *string `json:"title"`
}

// User is the user resource. Password and raw avatar keys never leave the server.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	TenantID     *uuid.UUID `json:"tenant_id"`
	Tenant       *TenantRef `json:"tenant"`
	Roles        []RoleRef  `json:"roles"`
	PrimaryRole  string     `json:"primary_role"`
	AvatarURL    *string    `json:"avatar_url"`
	ProviderName *string    `json:"provider_name"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at"`
}

// Ability is a catalog entry
type Ability struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is the full role resource with its granted abilities
type Role struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Title     *string   `json:"title"`
	Abilities []string  `json:"abilities"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page wraps a page of rendered items with its pagination meta
type Page[T any] struct {
	Data        []T   `json:"data"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

// MapPage renders every item of p with fn
func MapPage[M, T any](p *store.Page[M], fn func(*M) T) Page[T] {
	out := Page[T]{
		Data:        make([]T, 0, len(p.Data)),
		CurrentPage: p.CurrentPage,
		PerPage:     p.PerPage,
		Total:       p.Total,
		LastPage:    p.LastPage,
	}
	for i := range p.Data {
		out.Data = append(out.Data, fn(&p.Data[i]))
	}
	return out
}

func NewTenant(t *models.Tenant) Tenant {
	return Tenant{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

// NewUser renders u, resolving its avatar through objects (which may be nil)
func NewUser(u *models.User, objects storage.ObjectStore) User {
	out := User{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		TenantID:     u.TenantID,
		Roles:        make([]RoleRef, 0, len(u.Roles)),
		PrimaryRole:  u.PrimaryRole(),
		AvatarURL:    storage.AvatarURL(objects, u.Avatar),
		ProviderName: u.ProviderName,
		LastLoginAt:  u.LastLoginAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.Tenant != nil {
		out.Tenant = &TenantRef{ID: u.Tenant.ID, Name: u.Tenant.Name}
	}
	for _, r := range u.Roles {
		out.Roles = append(out.Roles, RoleRef{Name: r.Name, Title: r.Title})
	}
	if u.DeletedAt.Valid {
		at := u.DeletedAt.Time
		out.DeletedAt = &at
	}
	return out
}

// UserRenderer binds NewUser to an object store for use with MapPage
func UserRenderer(objects storage.ObjectStore) func(*models.User) User {
	return func(u *models.User) User { return NewUser(u, objects) }
}

func NewAbility(a *models.Ability) Ability {
	return Ability{ID: a.ID, Name: a.Name, Title: a.Title, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

func NewRole(r *models.Role) Role {
	out := Role{
		ID:        r.ID,
		Name:      r.Name,
		Title:     r.Title,
		Abilities: make([]string, 0, len(r.Abilities)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, a := range r.Abilities {
		out.Abilities = append(out.Abilities, a.Name)
	}
	return out
}
