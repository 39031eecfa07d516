package authz

import (
	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
)

// assignmentTiers is the role lattice, highest first. An actor falls into
// the first tier whose predicate matches and may assign that tier's roles.
var assignmentTiers = []struct {
	name    string
	matches func(s *Service, a *Actor) bool
	roles   []RoleName
}{
	{
		name:    "developer",
		matches: func(s *Service, a *Actor) bool { return s.AbilitiesFor(a).Has(ReadAllTenants) },
		roles:   []RoleName{RoleDeveloper, RoleAdmin, RoleStaff},
	},
	{
		name:    "admin",
		matches: func(s *Service, a *Actor) bool { return a.HasRole(RoleAdmin) },
		roles:   []RoleName{RoleAdmin, RoleStaff},
	},
	{
		name:    "default",
		matches: func(*Service, *Actor) bool { return true },
		roles:   []RoleName{RoleStaff},
	},
}

// AvailableRolesToAssign returns the roles the actor may give to others,
// highest first. A nil actor may assign nothing.
func (s *Service) AvailableRolesToAssign(actor *Actor) []RoleName {
	if actor == nil {
		return nil
	}
	for _, tier := range assignmentTiers {
		if tier.matches(s, actor) {
			return append([]RoleName(nil), tier.roles...)
		}
	}
	return nil
}

// CanAssign reports whether the role is in the actor's assignable set
func (s *Service) CanAssign(actor *Actor, role RoleName) bool {
	for _, r := range s.AvailableRolesToAssign(actor) {
		if r == role {
			return true
		}
	}
	return false
}

// ResolveAssignment returns the role that will actually be assigned when
// the actor requests the given one. Under PolicyClamp an out-of-set request
// becomes the actor's highest assignable role; under PolicyReject it fails
// with Unauthorized.
func (s *Service) ResolveAssignment(actor *Actor, requested RoleName) (RoleName, error) {
	available := s.AvailableRolesToAssign(actor)
	if len(available) == 0 {
		return "", apperr.Unauthorized("You may not assign roles.")
	}
	for _, r := range available {
		if r == requested {
			return r, nil
		}
	}
	if s.policy == PolicyReject {
		return "", apperr.Unauthorized("You may not assign the " + string(requested) + " role.")
	}
	return available[0], nil
}
