package domain

import "sort"

// Role is a named set of capabilities assigned to a user.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
)

// Capability is an atomic permission checked by the authorization guard.
type Capability string

const (
	CapViewAgents    Capability = "VIEW_AGENTS"
	CapCreateAgents  Capability = "CREATE_AGENTS"
	CapManageAgents  Capability = "MANAGE_AGENTS"
	CapDeleteAgents  Capability = "DELETE_AGENTS"
	CapViewTasks     Capability = "VIEW_TASKS"
	CapCreateTasks   Capability = "CREATE_TASKS"
	CapExecuteTasks  Capability = "EXECUTE_TASKS"
	CapCancelTasks   Capability = "CANCEL_TASKS"
	CapManageUsers   Capability = "MANAGE_USERS"
	CapInviteUsers   Capability = "INVITE_USERS"
	CapViewAuditLogs Capability = "VIEW_AUDIT_LOGS"
	CapManageTenant  Capability = "MANAGE_TENANT"
)

// rolePermissions is the single source of truth for the role→capability
// mapping. Backend authorization and any UI affordance consult this table and
// nothing else. A role with no entry holds no capabilities.
var rolePermissions = map[Role]map[Capability]bool{
	RoleOwner: {
		CapViewAgents: true, CapCreateAgents: true, CapManageAgents: true, CapDeleteAgents: true,
		CapViewTasks: true, CapCreateTasks: true, CapExecuteTasks: true, CapCancelTasks: true,
		CapManageUsers: true, CapInviteUsers: true, CapViewAuditLogs: true, CapManageTenant: true,
	},
	RoleAdmin: {
		CapViewAgents: true, CapCreateAgents: true, CapManageAgents: true, CapDeleteAgents: true,
		CapViewTasks: true, CapCreateTasks: true, CapExecuteTasks: true, CapCancelTasks: true,
		CapManageUsers: true, CapInviteUsers: true, CapViewAuditLogs: true,
	},
	RoleDeveloper: {
		CapViewAgents: true, CapCreateAgents: true, CapManageAgents: true,
		CapViewTasks: true, CapCreateTasks: true, CapExecuteTasks: true, CapCancelTasks: true,
	},
	RoleViewer: {
		CapViewAgents: true,
		CapViewTasks:  true,
	},
}

// Can reports whether the role holds the given capability.
func (r Role) Can(c Capability) bool {
	return rolePermissions[r][c]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Capabilities returns the role's capability set in stable order.
func (r Role) Capabilities() []Capability {
	caps := make([]Capability, 0, len(rolePermissions[r]))
	for c := range rolePermissions[r] {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
