package auth

import (
	"errors"
	"time"
)

// User errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserDisabled = errors.New("user account is disabled")
	ErrInvalidUser  = errors.New("invalid user")
)

// User represents the application's view of an authenticated principal.
// The ID is derived 1:1 from the identity provider's stable object
// identifier (oid), so repeated logins by the same person always resolve to
// the same record.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	Name        string     `json:"name,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Roles       []Role     `json:"roles"`
	ProviderOID string     `json:"provider_oid,omitempty"`
	ProviderUPN string     `json:"provider_upn,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Permissions returns the permission set derived from the user's roles.
// Permissions are never stored; they are always recomputed from the
// RolePermissions table.
func (u *User) Permissions() []Permission {
	return PermissionsForRoles(u.Roles)
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// copyUser creates a deep copy of a User.
func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	cpy := &User{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		ProviderOID: u.ProviderOID,
		ProviderUPN: u.ProviderUPN,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.Roles != nil {
		cpy.Roles = make([]Role, len(u.Roles))
		copy(cpy.Roles, u.Roles)
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cpy.LastLoginAt = &t
	}
	return cpy
}
