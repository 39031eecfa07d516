package authz

import "sort"

// Ability is the name of a single permission in the catalog
type Ability string

const (
	CreateTenants    Ability = "create-tenants"
	ReadAllTenants   Ability = "read-all-tenants"
	UpdateAllTenants Ability = "update-all-tenants"
	DeleteAllTenants Ability = "delete-all-tenants"

	ReadOwnTenant   Ability = "read-own-tenant"
	UpdateOwnTenant Ability = "update-own-tenant"

	CreateTenantUsers Ability = "create-tenant-users"
	ReadTenantUsers   Ability = "read-tenant-users"
	UpdateTenantUsers Ability = "update-tenant-users"
	DeleteTenantUsers Ability = "delete-tenant-users"

	CreateTenantData Ability = "create-tenant-data"
	ReadTenantData   Ability = "read-tenant-data"
	UpdateTenantData Ability = "update-tenant-data"
	DeleteTenantData Ability = "delete-tenant-data"

	CreateRoles Ability = "create-roles"
	ReadRoles   Ability = "read-roles"
	UpdateRoles Ability = "update-roles"
	DeleteRoles Ability = "delete-roles"

	CreatePermissions Ability = "create-permissions"
	ReadPermissions   Ability = "read-permissions"
	UpdatePermissions Ability = "update-permissions"
	DeletePermissions Ability = "delete-permissions"

	CreateRolePermissions Ability = "create-role-permissions"
	ReadRolePermissions   Ability = "read-role-permissions"
	UpdateRolePermissions Ability = "update-role-permissions"
	DeleteRolePermissions Ability = "delete-role-permissions"
)

// RoleName names a role in the registry
type RoleName string

const (
	RoleDeveloper RoleName = "developer"
	RoleAdmin     RoleName = "admin"
	RoleStaff     RoleName = "staff"
)

// ParseRoleName accepts one of the built-in role names
func ParseRoleName(s string) (RoleName, bool) {
	switch RoleName(s) {
	case RoleDeveloper, RoleAdmin, RoleStaff:
		return RoleName(s), true
	}
	return "", false
}

// Action is the verb half of a tenant-scoped permission
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Reach says whether a tenant permission applies to the actor's own tenant or to all of them
type Reach int

const (
	OwnTenant Reach = iota
	Global
)

func (r Reach) String() string {
	if r == Global {
		return "global"
	}
	return "own-tenant"
}

// TenantPermission is one permission with an explicit reach. The catalog still
// stores two ability strings per action; Ability maps between the two forms.
type TenantPermission struct {
	Action Action
	Reach  Reach
}

var tenantPermissionAbilities = map[TenantPermission]Ability{
	{ActionCreate, Global}:    CreateTenants,
	{ActionRead, Global}:      ReadAllTenants,
	{ActionUpdate, Global}:    UpdateAllTenants,
	{ActionDelete, Global}:    DeleteAllTenants,
	{ActionCreate, OwnTenant}: CreateTenantData,
	{ActionRead, OwnTenant}:   ReadTenantData,
	{ActionUpdate, OwnTenant}: UpdateTenantData,
	{ActionDelete, OwnTenant}: DeleteTenantData,
}

// Ability returns the catalog ability backing the permission, or "" for an unknown action
func (p TenantPermission) Ability() Ability {
	return tenantPermissionAbilities[p]
}

// AbilitySet is a set of ability names
type AbilitySet map[Ability]struct{}

func NewAbilitySet(abilities ...Ability) AbilitySet {
	s := make(AbilitySet, len(abilities))
	for _, a := range abilities {
		s[a] = struct{}{}
	}
	return s
}

func (s AbilitySet) Has(a Ability) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the members in name order
func (s AbilitySet) Sorted() []Ability {
	out := make([]Ability, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CatalogEntry describes a provisioned ability
type CatalogEntry struct {
	Name  Ability
	Title string
}

// DefaultCatalog is the ability catalog installed by provisioning
var DefaultCatalog = []CatalogEntry{
	{CreateTenants, "Create tenants"},
	{ReadAllTenants, "Read all tenants"},
	{UpdateAllTenants, "Update all tenants"},
	{DeleteAllTenants, "Delete all tenants"},
	{ReadOwnTenant, "Read own tenant"},
	{UpdateOwnTenant, "Update own tenant"},
	{CreateTenantUsers, "Create tenant users"},
	{ReadTenantUsers, "Read tenant users"},
	{UpdateTenantUsers, "Update tenant users"},
	{DeleteTenantUsers, "Delete tenant users"},
	{CreateTenantData, "Create tenant data"},
	{ReadTenantData, "Read tenant data"},
	{UpdateTenantData, "Update tenant data"},
	{DeleteTenantData, "Delete tenant data"},
	{CreateRoles, "Create roles"},
	{ReadRoles, "Read roles"},
	{UpdateRoles, "Update roles"},
	{DeleteRoles, "Delete roles"},
	{CreatePermissions, "Create permissions"},
	{ReadPermissions, "Read permissions"},
	{UpdatePermissions, "Update permissions"},
	{DeletePermissions, "Delete permissions"},
	{CreateRolePermissions, "Create role permissions"},
	{ReadRolePermissions, "Read role permissions"},
	{UpdateRolePermissions, "Update role permissions"},
	{DeleteRolePermissions, "Delete role permissions"},
}

// DefaultRoles lists the built-in roles with their titles, highest first
var DefaultRoles = []struct {
	Name  RoleName
	Title string
}{
	{RoleDeveloper, "Developer"},
	{RoleAdmin, "Administrator"},
	{RoleStaff, "Staff"},
}

// DefaultGrants is the initial ability grant per built-in role
func DefaultGrants() map[RoleName][]Ability {
	developer := make([]Ability, 0, len(DefaultCatalog))
	for _, entry := range DefaultCatalog {
		if entry.Name == ReadOwnTenant || entry.Name == UpdateOwnTenant {
			continue
		}
		developer = append(developer, entry.Name)
	}

	return map[RoleName][]Ability{
		RoleDeveloper: developer,
		RoleAdmin: {
			ReadOwnTenant, UpdateOwnTenant,
			CreateTenantUsers, ReadTenantUsers, UpdateTenantUsers,
			CreateTenantData, ReadTenantData, UpdateTenantData,
		},
		RoleStaff: {
			ReadOwnTenant, ReadTenantUsers, ReadTenantData,
		},
	}
}
