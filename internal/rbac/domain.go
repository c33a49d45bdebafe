package rbac

// Section names a back-office area guarded by the permission matrix.
type Section string

// Sections of the back office.
const (
	SectionDashboard     Section = "dashboard"
	SectionUsers         Section = "users"
	SectionProducts      Section = "products"
	SectionCategories    Section = "categories"
	SectionOrders        Section = "orders"
	SectionPromoCodes    Section = "promoCodes"
	SectionSubscriptions Section = "subscriptions"
	SectionMessages      Section = "messages"
	SectionAdmins        Section = "admins"
	SectionStats         Section = "stats"
)

// Action names an operation inside a section.
type Action string

// Actions available in every section.
const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// Sections lists every section in matrix order.
func Sections() []Section {
	return []Section{
		SectionDashboard,
		SectionUsers,
		SectionProducts,
		SectionCategories,
		SectionOrders,
		SectionPromoCodes,
		SectionSubscriptions,
		SectionMessages,
		SectionAdmins,
		SectionStats,
	}
}

// AllActions lists every action in matrix order.
func AllActions() []Action {
	return []Action{ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionExport}
}

// Actions holds the boolean grants for one section.
type Actions struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
	Export bool `json:"export"`
}

// Allows reports the grant for action. Unknown actions are denied.
func (a Actions) Allows(action Action) bool {
	switch action {
	case ActionView:
		return a.View
	case ActionCreate:
		return a.Create
	case ActionUpdate:
		return a.Update
	case ActionDelete:
		return a.Delete
	case ActionExport:
		return a.Export
	default:
		return false
	}
}

// Matrix is the section to action grant table of one administrator.
// Every administrator shares this shape; only the booleans differ.
type Matrix struct {
	Dashboard     Actions `json:"dashboard"`
	Users         Actions `json:"users"`
	Products      Actions `json:"products"`
	Categories    Actions `json:"categories"`
	Orders        Actions `json:"orders"`
	PromoCodes    Actions `json:"promoCodes"`
	Subscriptions Actions `json:"subscriptions"`
	Messages      Actions `json:"messages"`
	Admins        Actions `json:"admins"`
	Stats         Actions `json:"stats"`
}

// Section returns the grants for section and whether the section exists.
func (m *Matrix) Section(section Section) (Actions, bool) {
	if m == nil {
		return Actions{}, false
	}
	switch section {
	case SectionDashboard:
		return m.Dashboard, true
	case SectionUsers:
		return m.Users, true
	case SectionProducts:
		return m.Products, true
	case SectionCategories:
		return m.Categories, true
	case SectionOrders:
		return m.Orders, true
	case SectionPromoCodes:
		return m.PromoCodes, true
	case SectionSubscriptions:
		return m.Subscriptions, true
	case SectionMessages:
		return m.Messages, true
	case SectionAdmins:
		return m.Admins, true
	case SectionStats:
		return m.Stats, true
	default:
		return Actions{}, false
	}
}

// Allows reports whether the matrix grants action on section.
func (m *Matrix) Allows(section Section, action Action) bool {
	actions, ok := m.Section(section)
	if !ok {
		return false
	}
	return actions.Allows(action)
}

// Principal describes the actor whose permissions are evaluated.
type Principal interface {
	GetID() string
	GetRole() string
	GetPermissions() *Matrix
}
