package authz

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResourceClass names a tenant-partitioned table and the column holding
// the owning tenant id
type ResourceClass struct {
	Name   string
	Column string
}

var (
	Tenants      = ResourceClass{Name: "tenants", Column: "tenants.id"}
	Users        = ResourceClass{Name: "users", Column: "users.tenant_id"}
	AuditEntries = ResourceClass{Name: "audit_entries", Column: "audit_entries.tenant_id"}
)

// ScopeKind is the outcome of a scoping decision
type ScopeKind int

const (
	// ScopeNothing matches no rows
	ScopeNothing ScopeKind = iota
	// ScopeTenant matches rows of a single tenant
	ScopeTenant
	// ScopeUnrestricted matches every row
	ScopeUnrestricted
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeUnrestricted:
		return "unrestricted"
	case ScopeTenant:
		return "tenant"
	default:
		return "nothing"
	}
}

// ScopeDecision says which rows of a resource class an actor may see
type ScopeDecision struct {
	Kind     ScopeKind
	TenantID uuid.UUID
}

// Decide resolves the actor's read visibility over a resource class.
// Holders of read-all-tenants see everything; anyone else is confined to
// their own tenant, and an actor with no tenant sees nothing.
func (s *Service) Decide(actor *Actor, class ResourceClass) ScopeDecision {
	return s.DecideFor(actor, class, ActionRead)
}

// DecideFor resolves visibility for a specific action. The global variant
// of the action lifts the tenant filter just as read-all-tenants does for
// reads, so update-all-tenants reaches every tenant it may update.
func (s *Service) DecideFor(actor *Actor, class ResourceClass, action Action) ScopeDecision {
	if actor == nil {
		return ScopeDecision{Kind: ScopeNothing}
	}
	held := s.AbilitiesFor(actor)
	if held.Has(ReadAllTenants) {
		return ScopeDecision{Kind: ScopeUnrestricted}
	}
	if global := (TenantPermission{Action: action, Reach: Global}).Ability(); global != "" && held.Has(global) {
		return ScopeDecision{Kind: ScopeUnrestricted}
	}
	if id, ok := actor.Tenant.TenantID(); ok {
		return ScopeDecision{Kind: ScopeTenant, TenantID: id}
	}
	return ScopeDecision{Kind: ScopeNothing}
}

// Apply narrows a query according to the decision
func (d ScopeDecision) Apply(class ResourceClass, query *gorm.DB) *gorm.DB {
	switch d.Kind {
	case ScopeUnrestricted:
		return query
	case ScopeTenant:
		return query.Where(class.Column+" = ?", d.TenantID)
	default:
		return query.Where("1 = 0")
	}
}

// Scope narrows a query to the rows the actor may see. An empty scope
// yields an empty result, never an error.
func (s *Service) Scope(actor *Actor, class ResourceClass, query *gorm.DB) *gorm.DB {
	return s.Decide(actor, class).Apply(class, query)
}

// ScopeFor narrows a query to the rows the actor may perform action on
func (s *Service) ScopeFor(actor *Actor, class ResourceClass, action Action, query *gorm.DB) *gorm.DB {
	return s.DecideFor(actor, class, action).Apply(class, query)
}

// Visible reports whether a row owned by tenantID (nil for tenant-less
// rows) falls inside the actor's scope
func (s *Service) Visible(actor *Actor, class ResourceClass, tenantID *uuid.UUID) bool {
	d := s.Decide(actor, class)
	switch d.Kind {
	case ScopeUnrestricted:
		return true
	case ScopeTenant:
		return tenantID != nil && *tenantID == d.TenantID
	default:
		return false
	}
}
