package rbac

import (
	"net/http"
	"sort"
	"strings"
)

const (
	// SuperAdminID is the reserved principal id of the environment-bootstrapped administrator.
	SuperAdminID = "super-admin"
	// RoleSuperAdmin is the role carried by the super-administrator.
	RoleSuperAdmin = "super_admin"
)

// superAdminMatrix is the only definition of the super-administrator grants.
// Token minting and permission checks both read it through SuperAdminMatrix.
var superAdminMatrix = func() Matrix {
	all := Actions{View: true, Create: true, Update: true, Delete: true, Export: true}
	return Matrix{
		Dashboard:     all,
		Users:         all,
		Products:      all,
		Categories:    all,
		Orders:        all,
		PromoCodes:    all,
		Subscriptions: all,
		Messages:      all,
		Admins:        all,
		Stats:         all,
	}
}()

// SuperAdminMatrix returns a copy of the always-allow matrix.
func SuperAdminMatrix() Matrix {
	return superAdminMatrix
}

// IsSuperAdmin requires both the reserved id and the super_admin role.
func IsSuperAdmin(p Principal) bool {
	if p == nil {
		return false
	}
	return p.GetID() == SuperAdminID && p.GetRole() == RoleSuperAdmin
}

// HasPermission reports whether p may perform action on section.
// Missing matrices, sections or actions are denied.
func HasPermission(p Principal, section Section, action Action) bool {
	if p == nil {
		return false
	}
	if IsSuperAdmin(p) {
		return true
	}
	return p.GetPermissions().Allows(section, action)
}

// RouteRule binds a path prefix to the grant it requires.
type RouteRule struct {
	Prefix  string
	Section Section
	Action  Action
}

// routeTable is ordered longest prefix first by init.
var routeTable = []RouteRule{
	{Prefix: "/admin/dashboard", Section: SectionDashboard, Action: ActionView},
	{Prefix: "/admin/users", Section: SectionUsers, Action: ActionView},
	{Prefix: "/admin/users/export", Section: SectionUsers, Action: ActionExport},
	{Prefix: "/admin/products", Section: SectionProducts, Action: ActionView},
	{Prefix: "/admin/products/new", Section: SectionProducts, Action: ActionCreate},
	{Prefix: "/admin/categories", Section: SectionCategories, Action: ActionView},
	{Prefix: "/admin/categories/new", Section: SectionCategories, Action: ActionCreate},
	{Prefix: "/admin/orders", Section: SectionOrders, Action: ActionView},
	{Prefix: "/admin/orders/export", Section: SectionOrders, Action: ActionExport},
	{Prefix: "/admin/promo-codes", Section: SectionPromoCodes, Action: ActionView},
	{Prefix: "/admin/promo-codes/new", Section: SectionPromoCodes, Action: ActionCreate},
	{Prefix: "/admin/subscriptions", Section: SectionSubscriptions, Action: ActionView},
	{Prefix: "/admin/subscriptions/export", Section: SectionSubscriptions, Action: ActionExport},
	{Prefix: "/admin/messages", Section: SectionMessages, Action: ActionView},
	{Prefix: "/admin/admins", Section: SectionAdmins, Action: ActionView},
	{Prefix: "/admin/admins/new", Section: SectionAdmins, Action: ActionCreate},
	{Prefix: "/admin/stats", Section: SectionStats, Action: ActionView},
}

func init() {
	sort.SliceStable(routeTable, func(i, j int) bool {
		return len(routeTable[i].Prefix) > len(routeTable[j].Prefix)
	})
}

// RouteTable returns a copy of the route to permission table.
func RouteTable() []RouteRule {
	out := make([]RouteRule, len(routeTable))
	copy(out, routeTable)
	return out
}

// LookupRoute finds the most specific rule for routePath. API paths under
// /api/admin resolve to the same rules as /admin.
func LookupRoute(routePath string) (RouteRule, bool) {
	path := normalizeRoute(routePath)
	for _, rule := range routeTable {
		if path == rule.Prefix || strings.HasPrefix(path, rule.Prefix+"/") {
			return rule, true
		}
	}
	return RouteRule{}, false
}

// RouteGuard evaluates route access. The zero value lets unmapped routes through.
type RouteGuard struct {
	DenyUnmapped bool
}

// CanAccess reports whether p may open routePath.
func (g RouteGuard) CanAccess(p Principal, routePath string) bool {
	rule, ok := LookupRoute(routePath)
	if !ok {
		return !g.DenyUnmapped
	}
	return HasPermission(p, rule.Section, rule.Action)
}

// CanAccessMethod is CanAccess with the action taken from method on mapped
// routes. Reads use the rule's action; writes need the matching create, update
// or delete grant, so view never satisfies them. OPTIONS passes and any other
// method without a matrix action is denied.
func (g RouteGuard) CanAccessMethod(p Principal, method, routePath string) bool {
	rule, ok := LookupRoute(routePath)
	if !ok {
		return !g.DenyUnmapped
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return HasPermission(p, rule.Section, rule.Action)
	case http.MethodOptions:
		return true
	}
	action, ok := ActionForMethod(method)
	if !ok {
		return false
	}
	return HasPermission(p, rule.Section, action)
}

// CanAccessRoute applies the default route guard: mapped routes require their
// grant and unmapped routes are allowed.
func CanAccessRoute(p Principal, routePath string) bool {
	return RouteGuard{}.CanAccess(p, routePath)
}

func normalizeRoute(routePath string) string {
	path := strings.TrimSpace(routePath)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	if path == "/api" || strings.HasPrefix(path, "/api/") {
		path = path[len("/api"):]
	}
	if path == "" {
		return "/"
	}
	return path
}
