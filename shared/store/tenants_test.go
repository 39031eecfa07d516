package store

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

func TestTenantCreate(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	tenant, err := f.store.Tenants.Create(f.ctx, f.developer, "  Company C ")
	require.NoError(t, err)
	assert.Equal(t, "Company C", tenant.Name)
	assert.NotEqual(t, uuid.Nil, tenant.ID)

	_, err = f.store.Tenants.Create(f.ctx, f.developer, "Company C")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.store.Tenants.Create(f.ctx, f.developer, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// admins hold create-tenant-data
	_, err = f.store.Tenants.Create(f.ctx, f.adminA, "Company D")
	require.NoError(t, err)

	_, err = f.store.Tenants.Create(f.ctx, f.staffA, "Company E")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.store.Tenants.Create(f.ctx, nil, "Company F")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestTenantFirstOrCreateReturnsExisting(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	got, err := f.store.Tenants.FirstOrCreate(f.ctx, "Company A")
	require.NoError(t, err)
	assert.Equal(t, f.tenantA.ID, got.ID)

	fresh, err := f.store.Tenants.FirstOrCreate(f.ctx, "Company Z")
	require.NoError(t, err)
	again, err := f.store.Tenants.FirstOrCreate(f.ctx, "Company Z")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, again.ID)

	var count int64
	require.NoError(t, f.db.Model(&models.Tenant{}).Where("name = ?", "Company Z").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTenantFindIsScoped(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	got, err := f.store.Tenants.Find(f.ctx, f.adminA, f.tenantA.ID)
	require.NoError(t, err)
	assert.Equal(t, "Company A", got.Name)

	_, err = f.store.Tenants.Find(f.ctx, f.adminA, f.tenantB.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err = f.store.Tenants.Find(f.ctx, f.developer, f.tenantB.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tenantB.ID, got.ID)

	_, err = f.store.Tenants.Find(f.ctx, f.developer, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTenantUpdate(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	got, err := f.store.Tenants.Update(f.ctx, f.adminA, f.tenantA.ID, "Company A2")
	require.NoError(t, err)
	assert.Equal(t, "Company A2", got.Name)

	_, err = f.store.Tenants.Update(f.ctx, f.adminA, f.tenantB.ID, "Hijacked")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.store.Tenants.Update(f.ctx, f.staffA, f.tenantA.ID, "Nope")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.store.Tenants.Update(f.ctx, f.developer, f.tenantB.ID, "Company A2")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestTenantUpdateNeedsReachOnVisibleTenant(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	// sees every tenant but may only update its own
	f.authz.Registry().Grant("auditor", authz.ReadAllTenants, authz.UpdateTenantData)
	auditor := &authz.Actor{UserID: uuid.New(), Tenant: authz.TenantOf(f.tenantA.ID), Roles: []authz.RoleName{"auditor"}}

	_, err := f.store.Tenants.Update(f.ctx, auditor, f.tenantB.ID, "Renamed")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.store.Tenants.Update(f.ctx, auditor, f.tenantA.ID, "Renamed")
	assert.NoError(t, err)
}

func TestTenantUpdateWithGlobalReachWithoutReadAll(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	f.authz.Registry().Grant("editor", authz.UpdateAllTenants)
	editor := &authz.Actor{UserID: uuid.New(), Tenant: authz.TenantOf(f.tenantA.ID), Roles: []authz.RoleName{"editor"}}
	require.True(t, f.authz.CanOnTenant(editor, authz.ActionUpdate, f.tenantB.ID))

	tenant, err := f.store.Tenants.Update(f.ctx, editor, f.tenantB.ID, "Company B2")
	require.NoError(t, err)
	assert.Equal(t, f.tenantB.ID, tenant.ID)
	assert.Equal(t, "Company B2", tenant.Name)

	// updating does not widen what the editor may read
	_, err = f.store.Tenants.Find(f.ctx, editor, f.tenantB.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestTenantDeleteWithGlobalReachWithoutReadAll(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	empty, err := f.store.Tenants.Create(f.ctx, f.developer, "Empty Co")
	require.NoError(t, err)

	f.authz.Registry().Grant("reaper", authz.DeleteAllTenants, authz.ReadTenantData)
	reaper := &authz.Actor{UserID: uuid.New(), Tenant: authz.TenantOf(f.tenantA.ID), Roles: []authz.RoleName{"reaper"}}

	_, err = f.store.Tenants.Delete(f.ctx, reaper, empty.ID)
	require.NoError(t, err)

	_, err = f.store.Tenants.Find(f.ctx, reaper, f.tenantB.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTenantDelete(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	_, err := f.store.Tenants.Delete(f.ctx, f.developer, f.tenantA.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	empty, err := f.store.Tenants.Create(f.ctx, f.developer, "Empty Co")
	require.NoError(t, err)

	_, err = f.store.Tenants.Delete(f.ctx, f.adminA, empty.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.store.Tenants.Delete(f.ctx, f.developer, empty.ID)
	require.NoError(t, err)

	_, err = f.store.Tenants.Find(f.ctx, f.developer, empty.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTenantPaginate(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)
	for i := 1; i <= 20; i++ {
		_, err := f.store.Tenants.Create(f.ctx, f.developer, fmt.Sprintf("Org %02d", i))
		require.NoError(t, err)
	}

	page, err := f.store.Tenants.Paginate(f.ctx, f.developer, PageRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 22, page.Total)
	assert.Len(t, page.Data, DefaultPerPage)
	assert.Equal(t, 2, page.LastPage)
	assert.Equal(t, "Company A", page.Data[0].Name)

	page, err = f.store.Tenants.Paginate(f.ctx, f.developer, PageRequest{Page: 2, PerPage: 15, Search: "org"})
	require.NoError(t, err)
	assert.EqualValues(t, 20, page.Total)
	require.Len(t, page.Data, 5)
	assert.Equal(t, "Org 16", page.Data[0].Name)

	page, err = f.store.Tenants.Paginate(f.ctx, f.developer, PageRequest{Page: 9, PerPage: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.EqualValues(t, 22, page.Total)

	page, err = f.store.Tenants.Paginate(f.ctx, f.adminA, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, f.tenantA.ID, page.Data[0].ID)

	_, err = f.store.Tenants.Paginate(f.ctx, f.developer, PageRequest{PerPage: 101})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTenantOptions(t *testing.T) {
	f := newFixture(t, authz.PolicyClamp)

	all, err := f.store.Tenants.Options(f.ctx, f.developer)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := f.store.Tenants.Options(f.ctx, f.staffA)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, f.tenantA.ID, own[0].ID)
}
