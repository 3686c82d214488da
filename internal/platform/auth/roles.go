package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of staff roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RolePharmacist Role = "farmaceutico"
	RoleTechnician Role = "tecnico"
)

// Roles lists every role, most privileged first.
var Roles = []Role{RoleAdmin, RolePharmacist, RoleTechnician}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePharmacist, RoleTechnician:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole accepts a role name in any letter case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Capability is an action gated by role.
type Capability string

const (
	CapAssignTask       Capability = "task:assign"
	CapExecuteTask      Capability = "task:execute"
	CapDeleteTask       Capability = "task:delete"
	CapValidateActivity Capability = "activity:validate"
	CapViewHistory      Capability = "history:view"
	CapViewStats        Capability = "stats:view"
	CapManageUsers      Capability = "users:manage"
	CapManageCatalog    Capability = "catalog:manage"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapAssignTask:       true,
		CapExecuteTask:      true,
		CapDeleteTask:       true,
		CapValidateActivity: true,
		CapViewHistory:      true,
		CapViewStats:        true,
		CapManageUsers:      true,
		CapManageCatalog:    true,
	},
	RolePharmacist: {
		CapAssignTask:       true,
		CapExecuteTask:      true,
		CapDeleteTask:       true,
		CapValidateActivity: true,
		CapViewHistory:      true,
		CapViewStats:        true,
		CapManageCatalog:    true,
	},
	RoleTechnician: {
		CapExecuteTask: true,
		CapViewHistory: true,
	},
}

// Can reports whether the role grants c.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}
