package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/testutil"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

type countingRecorder struct {
	allowed, denied int
}

func (r *countingRecorder) RecordDecision(_ string, allowed bool) {
	if allowed {
		r.allowed++
	} else {
		r.denied++
	}
}

func newTestService(policy AssignmentPolicy) *Service {
	return NewService(DefaultRegistry(), nil, Options{Policy: policy})
}

func actor(tenant TenantScope, roles ...RoleName) *Actor {
	return &Actor{UserID: uuid.New(), Tenant: tenant, Roles: roles}
}

func TestCanMatchesRoleGrants(t *testing.T) {
	svc := newTestService(PolicyClamp)
	grants := DefaultGrants()

	for _, def := range DefaultRoles {
		granted := NewAbilitySet(grants[def.Name]...)
		a := actor(TenantOf(uuid.New()), def.Name)
		for _, entry := range DefaultCatalog {
			assert.Equal(t, granted.Has(entry.Name), svc.Can(a, entry.Name),
				"role %s ability %s", def.Name, entry.Name)
		}
	}
}

func TestCanNilActorDenies(t *testing.T) {
	svc := newTestService(PolicyClamp)

	assert.NotPanics(t, func() {
		assert.False(t, svc.Can(nil, ReadRoles))
		assert.False(t, svc.CanAny(nil, ActionRead))
		assert.False(t, svc.CanOnTenant(nil, ActionRead, uuid.New()))
		assert.False(t, svc.IsGlobal(nil))
	})
}

func TestCanUnknownRoleDenies(t *testing.T) {
	svc := newTestService(PolicyClamp)

	a := actor(TenantOf(uuid.New()), RoleName("auditor"))
	assert.False(t, svc.Can(a, ReadTenantUsers))
	assert.Empty(t, svc.Registry().RolesFor(a))
}

func TestCanOnTenant(t *testing.T) {
	svc := newTestService(PolicyClamp)
	own := uuid.New()
	other := uuid.New()

	admin := actor(TenantOf(own), RoleAdmin)
	assert.True(t, svc.CanOnTenant(admin, ActionUpdate, own))
	assert.False(t, svc.CanOnTenant(admin, ActionUpdate, other))
	// admins hold no delete-tenant-data
	assert.False(t, svc.CanOnTenant(admin, ActionDelete, own))

	developer := actor(GlobalScope(), RoleDeveloper)
	assert.True(t, svc.CanOnTenant(developer, ActionDelete, other))

	staff := actor(TenantOf(own), RoleStaff)
	assert.True(t, svc.CanOnTenant(staff, ActionRead, own))
	assert.False(t, svc.CanOnTenant(staff, ActionRead, other))
	assert.False(t, svc.CanOnTenant(staff, ActionUpdate, own))
}

func TestCanOnTenantWithoutTenantDenies(t *testing.T) {
	registry := NewRegistry()
	registry.Grant("orphan", ReadTenantData)
	svc := NewService(registry, nil, Options{})

	a := actor(GlobalScope(), "orphan")
	assert.False(t, svc.CanOnTenant(a, ActionRead, uuid.New()))
	assert.False(t, svc.CanOnTenant(a, ActionRead, uuid.Nil))
}

func TestCanAny(t *testing.T) {
	svc := newTestService(PolicyClamp)

	assert.True(t, svc.CanAny(actor(TenantOf(uuid.New()), RoleAdmin), ActionCreate))
	assert.False(t, svc.CanAny(actor(TenantOf(uuid.New()), RoleStaff), ActionCreate))
	assert.True(t, svc.CanAny(actor(TenantOf(uuid.New()), RoleStaff), ActionRead))
	assert.True(t, svc.CanAny(actor(GlobalScope(), RoleDeveloper), ActionDelete))
}

func TestTenantPermissionAbility(t *testing.T) {
	assert.Equal(t, ReadAllTenants, TenantPermission{ActionRead, Global}.Ability())
	assert.Equal(t, ReadTenantData, TenantPermission{ActionRead, OwnTenant}.Ability())
	assert.Equal(t, CreateTenants, TenantPermission{ActionCreate, Global}.Ability())
	assert.Equal(t, Ability(""), TenantPermission{Action("archive"), Global}.Ability())
}

func TestAvailableRolesToAssign(t *testing.T) {
	svc := newTestService(PolicyClamp)

	assert.Equal(t, []RoleName{RoleDeveloper, RoleAdmin, RoleStaff},
		svc.AvailableRolesToAssign(actor(GlobalScope(), RoleDeveloper)))
	assert.Equal(t, []RoleName{RoleAdmin, RoleStaff},
		svc.AvailableRolesToAssign(actor(TenantOf(uuid.New()), RoleAdmin)))
	assert.Equal(t, []RoleName{RoleStaff},
		svc.AvailableRolesToAssign(actor(TenantOf(uuid.New()), RoleStaff)))
	assert.Empty(t, svc.AvailableRolesToAssign(nil))
}

func TestAvailableRolesToAssignIsMonotone(t *testing.T) {
	svc := newTestService(PolicyClamp)

	staff := svc.AvailableRolesToAssign(actor(TenantOf(uuid.New()), RoleStaff))
	admin := svc.AvailableRolesToAssign(actor(TenantOf(uuid.New()), RoleAdmin))
	developer := svc.AvailableRolesToAssign(actor(GlobalScope(), RoleDeveloper))

	assert.Subset(t, admin, staff)
	assert.Subset(t, developer, admin)
	assert.Less(t, len(staff), len(admin))
	assert.Less(t, len(admin), len(developer))
}

func TestResolveAssignmentClamp(t *testing.T) {
	svc := newTestService(PolicyClamp)

	staff := actor(TenantOf(uuid.New()), RoleStaff)
	role, err := svc.ResolveAssignment(staff, RoleDeveloper)
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, role)

	admin := actor(TenantOf(uuid.New()), RoleAdmin)
	role, err = svc.ResolveAssignment(admin, RoleDeveloper)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = svc.ResolveAssignment(admin, RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, role)

	_, err = svc.ResolveAssignment(nil, RoleStaff)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestResolveAssignmentReject(t *testing.T) {
	svc := newTestService(PolicyReject)

	_, err := svc.ResolveAssignment(actor(TenantOf(uuid.New()), RoleStaff), RoleDeveloper)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	role, err := svc.ResolveAssignment(actor(TenantOf(uuid.New()), RoleAdmin), RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, role)
}

func TestParseAssignmentPolicy(t *testing.T) {
	assert.Equal(t, PolicyReject, ParseAssignmentPolicy("reject"))
	assert.Equal(t, PolicyClamp, ParseAssignmentPolicy("clamp"))
	assert.Equal(t, PolicyClamp, ParseAssignmentPolicy(""))
	assert.Equal(t, PolicyClamp, ParseAssignmentPolicy("bogus"))
}

func TestRecorderSeesDecisions(t *testing.T) {
	rec := &countingRecorder{}
	svc := NewService(DefaultRegistry(), nil, Options{Recorder: rec})

	svc.Can(actor(TenantOf(uuid.New()), RoleStaff), ReadTenantUsers)
	svc.Can(actor(TenantOf(uuid.New()), RoleStaff), DeleteTenantUsers)

	assert.Equal(t, 1, rec.allowed)
	assert.Equal(t, 1, rec.denied)
}

func TestRegistryGrantDoesNotLeakAcrossSnapshots(t *testing.T) {
	registry := DefaultRegistry()
	before := registry.AbilitiesOf(RoleStaff)

	registry.Grant(RoleStaff, DeleteTenantUsers)

	assert.False(t, before.Has(DeleteTenantUsers))
	assert.True(t, registry.AbilitiesOf(RoleStaff).Has(DeleteTenantUsers))
	assert.Len(t, registry.Abilities(), len(DefaultCatalog))
}

func TestProvisionIsIdempotentAndLoads(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	registry := NewRegistry()

	require.NoError(t, Provision(ctx, db, registry))
	require.NoError(t, Provision(ctx, db, registry))

	var abilities, roles int64
	require.NoError(t, db.Model(&models.Ability{}).Count(&abilities).Error)
	require.NoError(t, db.Model(&models.Role{}).Count(&roles).Error)
	assert.EqualValues(t, len(DefaultCatalog), abilities)
	assert.EqualValues(t, 3, roles)

	assert.Len(t, registry.Abilities(), len(DefaultCatalog))
	assert.Equal(t, []RoleName{RoleAdmin, RoleDeveloper, RoleStaff}, registry.Roles())
	for role, granted := range DefaultGrants() {
		assert.Len(t, registry.AbilitiesOf(role), len(granted), "role %s", role)
	}
}

func TestReloadPicksUpNewGrant(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	registry := NewRegistry()
	require.NoError(t, Provision(ctx, db, registry))
	svc := NewService(registry, db, Options{})

	staff := actor(TenantOf(uuid.New()), RoleStaff)
	require.False(t, svc.Can(staff, DeleteTenantUsers))

	var role models.Role
	require.NoError(t, db.Where("name = ?", "staff").First(&role).Error)
	var ability models.Ability
	require.NoError(t, db.Where("name = ?", "delete-tenant-users").First(&ability).Error)
	require.NoError(t, db.Model(&role).Association("Abilities").Append(&ability))

	assert.False(t, svc.Can(staff, DeleteTenantUsers), "snapshot changes only on reload")
	require.NoError(t, svc.Reload(ctx))
	assert.True(t, svc.Can(staff, DeleteTenantUsers))
}

func TestReloadWithoutDatabase(t *testing.T) {
	svc := newTestService(PolicyClamp)
	assert.Error(t, svc.Reload(context.Background()))
}

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) CatalogChanged(context.Context) error {
	n.calls++
	return n.err
}

func TestCatalogChangedReloadsThenAnnounces(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	registry := NewRegistry()
	require.NoError(t, Provision(ctx, db, registry))

	notifier := &countingNotifier{}
	svc := NewService(registry, db, Options{Notifier: notifier})
	require.NoError(t, svc.CatalogChanged(ctx))
	assert.Equal(t, 1, notifier.calls)

	// a failed announcement does not undo the local change
	notifier.err = errors.New("redis down")
	assert.NoError(t, svc.CatalogChanged(ctx))
	assert.Equal(t, 2, notifier.calls)

	assert.Error(t, NewService(NewRegistry(), nil, Options{Notifier: notifier}).CatalogChanged(ctx))
	assert.Equal(t, 2, notifier.calls, "nothing announced when the local reload fails")
}

func grantInDB(t *testing.T, db *gorm.DB, role, ability string) {
	t.Helper()
	var r models.Role
	require.NoError(t, db.Where("name = ?", role).First(&r).Error)
	var a models.Ability
	require.NoError(t, db.Where("name = ?", ability).First(&a).Error)
	require.NoError(t, db.Model(&r).Association("Abilities").Append(&a))
}

func TestCatalogChangeReachesOtherProcesses(t *testing.T) {
	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two processes sharing the database and Redis, each with its own registry
	newProcess := func() *Service {
		registry := NewRegistry()
		require.NoError(t, Provision(ctx, db, registry))
		catalog := utils.NewCatalogSync(rdb, utils.CatalogChannel)
		svc := NewService(registry, db, Options{Notifier: catalog})
		require.NoError(t, catalog.Watch(ctx, svc.Reload, 0))
		return svc
	}
	admin, audit := newProcess(), newProcess()

	staff := actor(TenantOf(uuid.New()), RoleStaff)
	require.False(t, audit.Can(staff, DeleteTenantUsers))

	grantInDB(t, db, "staff", "delete-tenant-users")
	require.NoError(t, admin.CatalogChanged(ctx))

	assert.True(t, admin.Can(staff, DeleteTenantUsers))
	assert.Eventually(t, func() bool {
		return audit.Can(staff, DeleteTenantUsers)
	}, 2*time.Second, 10*time.Millisecond)
}
