package main

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/resources"
)

func tenantNames(list TenantList) []string {
	names := make([]string, 0, len(list.Data))
	for _, t := range list.Data {
		names = append(names, t.Name)
	}
	return names
}

func TestListTenantsIsScoped(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		email     string
		names     []string
		canCreate bool
		canDelete bool
	}{
		{"developer@example.com", []string{"Company A", "Company B"}, true, true},
		{"admin1@example.com", []string{"Company A"}, true, false},
		{"admin2@example.com", []string{"Company B"}, true, false},
		{"staff1@example.com", []string{"Company A"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			w, env := ts.do(http.MethodGet, "/tenants", ts.login(t, tt.email), "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			list := decode[TenantList](t, env)
			assert.Equal(t, tt.names, tenantNames(list))
			assert.Equal(t, int64(len(tt.names)), list.Total)
			assert.Equal(t, tt.canCreate, list.Permissions.CanCreate)
			assert.Equal(t, tt.canDelete, list.Permissions.CanDelete)
		})
	}
}

func TestListTenantsSearchAndPaging(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "developer@example.com")

	w, env := ts.do(http.MethodGet, "/tenants?q=company%20b", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Company B"}, tenantNames(decode[TenantList](t, env)))

	w, env = ts.do(http.MethodGet, "/tenants?page=5&per_page=1", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[TenantList](t, env)
	assert.Empty(t, list.Data)
	assert.Equal(t, int64(2), list.Total)
	assert.Equal(t, 2, list.LastPage)

	w, env = ts.do(http.MethodGet, "/tenants?per_page=500", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "per_page")

	w, _ = ts.do(http.MethodGet, "/tenants?page=abc", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTenant(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "developer@example.com")

	w, env := ts.do(http.MethodPost, "/tenants", token, `{"name":"Company C"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tenant := decode[resources.Tenant](t, env)
	assert.Equal(t, "Company C", tenant.Name)

	last := ts.published.last()
	assert.Equal(t, events.TenantCreated, last.Type)
	require.NotNil(t, last.TenantID)
	assert.Equal(t, tenant.ID, *last.TenantID)

	w, env = ts.do(http.MethodPost, "/tenants", token, `{"name":"Company A"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "name")

	w, env = ts.do(http.MethodPost, "/tenants", token, `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "name")

	w, _ = ts.do(http.MethodPost, "/tenants", ts.login(t, "staff1@example.com"), `{"name":"Company D"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetTenantOutsideScopeIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin1@example.com")

	w, _ := ts.do(http.MethodGet, "/tenants/"+ts.tenantID(t, "Company A").String(), token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(http.MethodGet, "/tenants/"+ts.tenantID(t, "Company B").String(), token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(http.MethodGet, "/tenants/not-a-uuid", token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateTenant(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "admin1@example.com")

	w, env := ts.do(http.MethodPut, "/tenants/"+ts.tenantID(t, "Company A").String(), token, `{"name":"Company A Ltd"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Company A Ltd", decode[resources.Tenant](t, env).Name)
	assert.Equal(t, events.TenantUpdated, ts.published.last().Type)

	w, _ = ts.do(http.MethodPut, "/tenants/"+ts.tenantID(t, "Company B").String(), token, `{"name":"Mine now"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(http.MethodPut, "/tenants/"+ts.tenantID(t, "Company A Ltd").String(), ts.login(t, "staff1@example.com"), `{"name":"Staff Co"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteTenant(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "developer@example.com")

	w, env := ts.do(http.MethodDelete, "/tenants/"+ts.tenantID(t, "Company A").String(), token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Errors, "tenant")

	empty := ts.tenantID(t, "Empty Co")
	w, _ = ts.do(http.MethodDelete, "/tenants/"+empty.String(), ts.login(t, "admin1@example.com"), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = ts.do(http.MethodDelete, "/tenants/"+empty.String(), token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, events.TenantDeleted, ts.published.last().Type)

	w, _ = ts.do(http.MethodGet, "/tenants/"+empty.String(), token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantsRequireAuthentication(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(http.MethodGet, "/tenants", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
