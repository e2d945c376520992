// Package auth provides authentication and authorization for docuchat.
package auth

import (
	"sort"
	"strings"
)

// Role represents a user role in the RBAC system.
type Role string

const (
	// RoleAdmin has full access to all resources and operations.
	RoleAdmin Role = "admin"

	// RoleEditor has read/write access to services and documents.
	RoleEditor Role = "editor"

	// RoleViewer has read-only access to services and documents, and may chat.
	RoleViewer Role = "viewer"

	// RoleNone represents no role (unauthenticated or unknown).
	RoleNone Role = ""
)

// Resource constants for permission checks.
const (
	ResourceServices  = "services"
	ResourceDocuments = "documents"
	ResourceChat      = "chat"
	ResourceUsers     = "users"
)

// Action constants for permission checks.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionList   = "list"
	ActionAsk    = "ask"
)

// Permission represents an action on a resource.
type Permission struct {
	Resource string // "services", "documents", "chat", "users"
	Action   string // "create", "read", "update", "delete", "list", "ask"
}

// String returns a string representation of the permission (e.g., "documents:read").
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// RolePermissions maps roles to their allowed permissions.
// This is the authoritative source of what each role can do. A user's
// permission set is always derived from this table at evaluation time, so a
// change here takes effect for all users without a data migration.
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		{ResourceServices, ActionCreate},
		{ResourceServices, ActionRead},
		{ResourceServices, ActionUpdate},
		{ResourceServices, ActionDelete},
		{ResourceServices, ActionList},
		{ResourceDocuments, ActionCreate},
		{ResourceDocuments, ActionRead},
		{ResourceDocuments, ActionUpdate},
		{ResourceDocuments, ActionDelete},
		{ResourceDocuments, ActionList},
		{ResourceChat, ActionAsk},
		{ResourceUsers, ActionRead},
		{ResourceUsers, ActionUpdate},
		{ResourceUsers, ActionList},
	},
	RoleEditor: {
		{ResourceServices, ActionCreate},
		{ResourceServices, ActionRead},
		{ResourceServices, ActionUpdate},
		{ResourceServices, ActionList},
		{ResourceDocuments, ActionCreate},
		{ResourceDocuments, ActionRead},
		{ResourceDocuments, ActionUpdate},
		{ResourceDocuments, ActionDelete},
		{ResourceDocuments, ActionList},
		{ResourceChat, ActionAsk},
	},
	RoleViewer: {
		{ResourceServices, ActionRead},
		{ResourceServices, ActionList},
		{ResourceDocuments, ActionRead},
		{ResourceDocuments, ActionList},
		{ResourceChat, ActionAsk},
	},
}

// rolePermissionCache is a pre-computed lookup table for faster permission checks.
// Map format: role -> resource -> action -> bool
var rolePermissionCache map[Role]map[string]map[string]bool

func init() {
	rolePermissionCache = make(map[Role]map[string]map[string]bool)
	for role, perms := range RolePermissions {
		rolePermissionCache[role] = make(map[string]map[string]bool)
		for _, perm := range perms {
			if rolePermissionCache[role][perm.Resource] == nil {
				rolePermissionCache[role][perm.Resource] = make(map[string]bool)
			}
			rolePermissionCache[role][perm.Resource][perm.Action] = true
		}
	}
}

// HasPermission checks if a role has permission for a specific resource and action.
// Returns false for unknown roles or permissions (default deny).
func HasPermission(role Role, resource, action string) bool {
	if role == RoleNone {
		return false
	}
	resourcePerms, ok := rolePermissionCache[role]
	if !ok {
		return false
	}
	actionPerms, ok := resourcePerms[resource]
	if !ok {
		return false
	}
	return actionPerms[action]
}

// AnyRoleHasPermission checks if any of the given roles grants the permission.
func AnyRoleHasPermission(roles []Role, resource, action string) bool {
	for _, role := range roles {
		if HasPermission(role, resource, action) {
			return true
		}
	}
	return false
}

// PermissionsForRoles returns the union of permissions over the given role
// set, de-duplicated and sorted for deterministic output.
func PermissionsForRoles(roles []Role) []Permission {
	seen := make(map[Permission]struct{})
	for _, role := range roles {
		for _, perm := range RolePermissions[role] {
			seen[perm] = struct{}{}
		}
	}
	result := make([]Permission, 0, len(seen))
	for perm := range seen {
		result = append(result, perm)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result
}

// PermissionStrings returns the string forms of the union of permissions over
// the given role set.
func PermissionStrings(roles []Role) []string {
	perms := PermissionsForRoles(roles)
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// ValidRoles returns all valid role values.
func ValidRoles() []Role {
	return []Role{RoleAdmin, RoleEditor, RoleViewer}
}

// IsValidRole returns true if the given role is a valid defined role.
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// ParseRole parses a string into a Role.
// Returns RoleNone if the string doesn't match a valid role.
func ParseRole(s string) Role {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if IsValidRole(role) {
		return role
	}
	return RoleNone
}

// RolesToStrings converts a role slice to plain strings (for token claims).
func RolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings converts plain strings to roles, dropping invalid entries.
func RolesFromStrings(values []string) []Role {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		if role := ParseRole(v); role != RoleNone {
			out = append(out, role)
		}
	}
	return out
}
