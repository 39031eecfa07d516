package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

type snapshot struct {
	catalog []Ability
	grants  map[RoleName]AbilitySet
}

// Registry holds an immutable snapshot of the ability catalog and the
// role grants. Readers never observe a partially applied change: every
// mutation builds a new snapshot and swaps it in.
type Registry struct {
	mu   sync.RWMutex
	snap *snapshot
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{snap: &snapshot{grants: map[RoleName]AbilitySet{}}}
}

// LoadRegistry reads the catalog and grants from the database
func LoadRegistry(ctx context.Context, db *gorm.DB) (*Registry, error) {
	r := NewRegistry()
	if err := r.Load(ctx, db); err != nil {
		return nil, err
	}
	return r, nil
}

// Load replaces the snapshot with the current database contents
func (r *Registry) Load(ctx context.Context, db *gorm.DB) error {
	var abilities []models.Ability
	if err := db.WithContext(ctx).Order("name ASC").Find(&abilities).Error; err != nil {
		return fmt.Errorf("failed to load abilities: %w", err)
	}

	var roles []models.Role
	if err := db.WithContext(ctx).Preload("Abilities").Find(&roles).Error; err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}

	next := &snapshot{
		catalog: make([]Ability, 0, len(abilities)),
		grants:  make(map[RoleName]AbilitySet, len(roles)),
	}
	for _, a := range abilities {
		next.catalog = append(next.catalog, Ability(a.Name))
	}
	for _, role := range roles {
		set := make(AbilitySet, len(role.Abilities))
		for _, a := range role.Abilities {
			set[Ability(a.Name)] = struct{}{}
		}
		next.grants[RoleName(role.Name)] = set
	}

	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()
	return nil
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Abilities returns the catalog sorted by name
func (r *Registry) Abilities() []Ability {
	snap := r.current()
	out := make([]Ability, len(snap.catalog))
	copy(out, snap.catalog)
	return out
}

// Roles returns every known role name, sorted
func (r *Registry) Roles() []RoleName {
	snap := r.current()
	out := make([]RoleName, 0, len(snap.grants))
	for name := range snap.grants {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RolesFor returns the actor's roles that the registry knows about
func (r *Registry) RolesFor(actor *Actor) []RoleName {
	if actor == nil {
		return nil
	}
	snap := r.current()
	out := make([]RoleName, 0, len(actor.Roles))
	for _, role := range actor.Roles {
		if _, ok := snap.grants[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

// AbilitiesOf returns a copy of the abilities granted to a role
func (r *Registry) AbilitiesOf(role RoleName) AbilitySet {
	snap := r.current()
	out := make(AbilitySet, len(snap.grants[role]))
	for a := range snap.grants[role] {
		out[a] = struct{}{}
	}
	return out
}

// Grant adds abilities to a role in memory. Abilities missing from the
// catalog are added to it. Used while provisioning and in tests; runtime
// changes go through the database and a Load.
func (r *Registry) Grant(role RoleName, abilities ...Ability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap
	next := &snapshot{
		catalog: append([]Ability(nil), old.catalog...),
		grants:  make(map[RoleName]AbilitySet, len(old.grants)+1),
	}
	for name, set := range old.grants {
		next.grants[name] = set
	}

	set := make(AbilitySet, len(old.grants[role])+len(abilities))
	for a := range old.grants[role] {
		set[a] = struct{}{}
	}
	known := NewAbilitySet(next.catalog...)
	for _, a := range abilities {
		set[a] = struct{}{}
		if !known.Has(a) {
			next.catalog = append(next.catalog, a)
			known[a] = struct{}{}
		}
	}
	sort.Slice(next.catalog, func(i, j int) bool { return next.catalog[i] < next.catalog[j] })
	next.grants[role] = set
	r.snap = next
}

// union returns the abilities held through any of the given roles
func (r *Registry) union(roles []RoleName) AbilitySet {
	snap := r.current()
	out := AbilitySet{}
	for _, role := range roles {
		for a := range snap.grants[role] {
			out[a] = struct{}{}
		}
	}
	return out
}
