package rbac

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPrincipal struct {
	id    string
	role  string
	perms *Matrix
}

func (p testPrincipal) GetID() string           { return p.id }
func (p testPrincipal) GetRole() string         { return p.role }
func (p testPrincipal) GetPermissions() *Matrix { return p.perms }

func TestHasPermission(t *testing.T) {
	staff := testPrincipal{id: "a-1", role: "staff", perms: &Matrix{
		Orders:   Actions{View: true},
		Products: Actions{View: true, Create: true},
	}}

	tests := []struct {
		name    string
		p       Principal
		section Section
		action  Action
		want    bool
	}{
		{"granted", staff, SectionOrders, ActionView, true},
		{"not granted", staff, SectionOrders, ActionUpdate, false},
		{"other section granted", staff, SectionProducts, ActionCreate, true},
		{"empty section", staff, SectionAdmins, ActionView, false},
		{"unknown section", staff, Section("warehouse"), ActionView, false},
		{"unknown action", staff, SectionOrders, Action("approve"), false},
		{"nil matrix", testPrincipal{id: "a-2", role: "staff"}, SectionOrders, ActionView, false},
		{"nil principal", nil, SectionOrders, ActionView, false},
		{"super admin", testPrincipal{id: SuperAdminID, role: RoleSuperAdmin}, SectionAdmins, ActionDelete, true},
		{"super admin unknown section", testPrincipal{id: SuperAdminID, role: RoleSuperAdmin}, Section("warehouse"), ActionView, true},
		{"forged role alone", testPrincipal{id: "a-3", role: RoleSuperAdmin}, SectionAdmins, ActionDelete, false},
		{"reserved id alone", testPrincipal{id: SuperAdminID, role: "admin"}, SectionAdmins, ActionDelete, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasPermission(tc.p, tc.section, tc.action))
		})
	}
}

func TestSuperAdminMatrixIsAllTrueAndCopied(t *testing.T) {
	m := SuperAdminMatrix()
	for _, s := range Sections() {
		for _, a := range AllActions() {
			assert.True(t, m.Allows(s, a), "%s.%s", s, a)
		}
	}
	m.Orders.Delete = false
	assert.True(t, SuperAdminMatrix().Orders.Delete, "callers cannot mutate the shared matrix")
}

func TestMatrixJSONShape(t *testing.T) {
	raw := `{"orders":{"view":true,"update":true},"promoCodes":{"export":true}}`
	var m Matrix
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.True(t, m.Allows(SectionOrders, ActionUpdate))
	assert.True(t, m.Allows(SectionPromoCodes, ActionExport))
	assert.False(t, m.Allows(SectionOrders, ActionDelete))
}

func TestCanAccessRoute(t *testing.T) {
	viewer := testPrincipal{id: "a-1", role: "staff", perms: &Matrix{
		Orders: Actions{View: true},
		Users:  Actions{View: true},
	}}

	tests := []struct {
		path string
		want bool
	}{
		{"/admin/orders", true},
		{"/admin/orders/123", true},
		{"/api/admin/orders/123?tab=items", true},
		{"/admin/orders/export", false},
		{"/admin/users/", true},
		{"/admin/users/export", false},
		{"/admin/products", false},
		{"/admin/productsfeed", true},
		{"/admin/unlisted", true},
		{"/account", true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, CanAccessRoute(viewer, tc.path))
		})
	}

	strict := RouteGuard{DenyUnmapped: true}
	assert.False(t, strict.CanAccess(viewer, "/admin/unlisted"))
	assert.True(t, strict.CanAccess(viewer, "/admin/orders"))
}

func TestCanAccessMethod(t *testing.T) {
	viewer := testPrincipal{id: "a-1", role: "staff", perms: &Matrix{
		Orders:   Actions{View: true},
		Products: Actions{View: true, Create: true, Update: true},
	}}
	guard := RouteGuard{}

	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodGet, "/api/admin/orders/o-1", true},
		{http.MethodHead, "/api/admin/orders", true},
		{http.MethodPost, "/api/admin/orders/o-1/notes", false},
		{http.MethodPut, "/api/admin/orders/o-1", false},
		{http.MethodPatch, "/api/admin/orders/o-1", false},
		{http.MethodDelete, "/api/admin/orders/o-1", false},
		{http.MethodGet, "/api/admin/orders/export", false},
		{http.MethodPost, "/api/admin/products", true},
		{http.MethodPut, "/api/admin/products/p-1", true},
		{http.MethodDelete, "/api/admin/products/p-1", false},
		{http.MethodOptions, "/api/admin/orders/o-1", true},
		{http.MethodTrace, "/api/admin/orders/o-1", false},
		{"PURGE", "/api/admin/products/p-1", false},
		{http.MethodPost, "/api/admin/unlisted", true},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, guard.CanAccessMethod(viewer, tc.method, tc.path))
		})
	}

	super := testPrincipal{id: SuperAdminID, role: RoleSuperAdmin}
	assert.True(t, guard.CanAccessMethod(super, http.MethodDelete, "/api/admin/orders/o-1"))
	assert.False(t, RouteGuard{DenyUnmapped: true}.CanAccessMethod(viewer, http.MethodPost, "/api/admin/unlisted"))
}

func TestLookupRouteMostSpecific(t *testing.T) {
	rule, ok := LookupRoute("/api/admin/products/new")
	require.True(t, ok)
	assert.Equal(t, SectionProducts, rule.Section)
	assert.Equal(t, ActionCreate, rule.Action)

	_, ok = LookupRoute("/apiary/admin/products")
	assert.False(t, ok)

	table := RouteTable()
	for i := 1; i < len(table); i++ {
		assert.GreaterOrEqual(t, len(table[i-1].Prefix), len(table[i].Prefix))
	}
}
