// Package authz answers who may do what, and over which tenants.
//
// Every check fails closed: a nil actor, a missing ability, a tenant
// mismatch, or an actor without a tenant asking about a tenant all deny.
// Checks never return errors and never panic.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AssignmentPolicy decides what happens when an actor requests a role
// outside the set they may assign
type AssignmentPolicy string

const (
	// PolicyClamp silently downgrades to the highest role the actor may assign
	PolicyClamp AssignmentPolicy = "clamp"
	// PolicyReject refuses the request as unauthorized
	PolicyReject AssignmentPolicy = "reject"
)

// ParseAssignmentPolicy falls back to PolicyClamp for unknown values
func ParseAssignmentPolicy(s string) AssignmentPolicy {
	if AssignmentPolicy(s) == PolicyReject {
		return PolicyReject
	}
	return PolicyClamp
}

// DecisionRecorder observes authorization outcomes
type DecisionRecorder interface {
	RecordDecision(check string, allowed bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(string, bool) {}

// CatalogNotifier tells other processes that roles or grants changed
type CatalogNotifier interface {
	CatalogChanged(ctx context.Context) error
}

// Options configures a Service
type Options struct {
	Policy   AssignmentPolicy
	Recorder DecisionRecorder
	Notifier CatalogNotifier
}

// Service is the authorization resolver. It is constructed once and
// passed to whatever needs it.
type Service struct {
	registry *Registry
	db       *gorm.DB
	policy   AssignmentPolicy
	recorder DecisionRecorder
	notifier CatalogNotifier
}

// NewService wraps a registry. db may be nil when Reload is never needed.
func NewService(registry *Registry, db *gorm.DB, opts Options) *Service {
	if opts.Policy == "" {
		opts.Policy = PolicyClamp
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	return &Service{
		registry: registry,
		db:       db,
		policy:   opts.Policy,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
	}
}

// Registry exposes the underlying catalog snapshot
func (s *Service) Registry() *Registry {
	return s.registry
}

// Policy returns the configured assignment policy
func (s *Service) Policy() AssignmentPolicy {
	return s.policy
}

// Reload refreshes the registry after the catalog or grants changed
func (s *Service) Reload(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("authz: reload requires a database")
	}
	return s.registry.Load(ctx, s.db)
}

// CatalogChanged reloads the registry after this process changed the
// catalog, then tells the other processes to do the same. A failed
// announcement is logged; their periodic reload catches up.
func (s *Service) CatalogChanged(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.CatalogChanged(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to announce catalog change")
		}
	}
	return nil
}

// AbilitiesFor returns the union of abilities of the actor's roles
func (s *Service) AbilitiesFor(actor *Actor) AbilitySet {
	if actor == nil {
		return AbilitySet{}
	}
	return s.registry.union(actor.Roles)
}

// Can reports whether the actor holds the ability through any role
func (s *Service) Can(actor *Actor, ability Ability) bool {
	allowed := actor != nil && s.AbilitiesFor(actor).Has(ability)
	s.recorder.RecordDecision(string(ability), allowed)
	return allowed
}

// CanAnyOf reports whether the actor holds at least one of the abilities
func (s *Service) CanAnyOf(actor *Actor, abilities ...Ability) bool {
	if actor == nil {
		return false
	}
	held := s.AbilitiesFor(actor)
	for _, a := range abilities {
		if held.Has(a) {
			return true
		}
	}
	return false
}

// CanAny reports whether the actor holds either reach of a tenant action.
// It gates listing and creation, where no target tenant exists yet.
func (s *Service) CanAny(actor *Actor, action Action) bool {
	allowed := s.CanAnyOf(actor,
		TenantPermission{Action: action, Reach: Global}.Ability(),
		TenantPermission{Action: action, Reach: OwnTenant}.Ability(),
	)
	s.recorder.RecordDecision("any:"+string(action), allowed)
	return allowed
}

// CanOnTenant reports whether the actor may perform action on the given
// tenant: either through the global variant of the action, or through the
// own-tenant variant when the tenant is the actor's own.
func (s *Service) CanOnTenant(actor *Actor, action Action, tenantID uuid.UUID) bool {
	allowed := s.canOnTenant(actor, action, tenantID)
	s.recorder.RecordDecision("tenant:"+string(action), allowed)
	return allowed
}

func (s *Service) canOnTenant(actor *Actor, action Action, tenantID uuid.UUID) bool {
	if actor == nil {
		return false
	}
	held := s.AbilitiesFor(actor)
	if global := (TenantPermission{Action: action, Reach: Global}).Ability(); global != "" && held.Has(global) {
		return true
	}
	own := TenantPermission{Action: action, Reach: OwnTenant}.Ability()
	return own != "" && held.Has(own) && actor.Tenant.Contains(tenantID)
}

// IsGlobal reports whether the actor sees across tenants
func (s *Service) IsGlobal(actor *Actor) bool {
	return actor != nil && s.AbilitiesFor(actor).Has(ReadAllTenants)
}
