package auth

import "github.com/ironlayer/ironlayer/pkg/contracts"

// Permission is one named capability checked by handlers.
type Permission string

const (
	PermReadPlans     Permission = "READ_PLANS"
	PermCreatePlans   Permission = "CREATE_PLANS"
	PermApplyPlans    Permission = "APPLY_PLANS"
	PermReadModels    Permission = "READ_MODELS"
	PermWriteModels   Permission = "WRITE_MODELS"
	PermManageUsers   Permission = "MANAGE_USERS"
	PermManageBilling Permission = "MANAGE_BILLING"
	PermUseAI         Permission = "USE_AI"
)

// rolePermissions is the role × permission matrix. SERVICE is absent
// on purpose: service accounts authorize by scope, never by role.
var rolePermissions = map[contracts.Role]map[Permission]bool{
	contracts.RoleViewer: {
		PermReadPlans:  true,
		PermReadModels: true,
	},
	contracts.RoleEditor: {
		PermReadPlans:   true,
		PermCreatePlans: true,
		PermApplyPlans:  true,
		PermReadModels:  true,
		PermWriteModels: true,
		PermUseAI:       true,
	},
	contracts.RoleAdmin: {
		PermReadPlans:     true,
		PermCreatePlans:   true,
		PermApplyPlans:    true,
		PermReadModels:    true,
		PermWriteModels:   true,
		PermManageUsers:   true,
		PermManageBilling: true,
		PermUseAI:         true,
	},
}

// RoleHas reports whether a role grants a permission. SERVICE always
// returns false here: a role-based guard must reject service accounts
// regardless of the permission asked for.
func RoleHas(role contracts.Role, perm Permission) bool {
	return rolePermissions[role][perm]
}

// Can reports whether the identity may exercise a permission. Users go
// through the role matrix; service accounts require an explicit scope
// matching the permission name.
func (id *Identity) Can(perm Permission) bool {
	if id == nil {
		return false
	}
	if id.Kind == KindService {
		return id.HasScope(string(perm))
	}
	return RoleHas(id.Role, perm)
}
